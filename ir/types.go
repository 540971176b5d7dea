// Package ir is the language-neutral, SSA-like intermediate representation
// for a single kernel body (spec.md section 4.E / Design Note "Cyclic
// ownership in the IR"). Values and basic blocks live in a dense-handle
// arena owned by a Module rather than as a graph of Go pointers, so
// back-edges in control flow are plain integer handles and the structure
// never forms an owning-pointer cycle.
package ir

import "fmt"

// Kind identifies the basic value type carried by a Value, mirroring the
// basic types named in spec.md section 3: Int{1,8,16,32,64},
// Float{16,32,64}, narrow floats, Ptr, Array, and structured aggregates.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt1
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat16
	KindFloat32
	KindFloat64
	KindBF16
	KindFP8E4M3
	KindPtr
	KindArray
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindInt1:
		return "i1"
	case KindInt8:
		return "i8"
	case KindInt16:
		return "i16"
	case KindInt32:
		return "i32"
	case KindInt64:
		return "i64"
	case KindFloat16:
		return "f16"
	case KindFloat32:
		return "f32"
	case KindFloat64:
		return "f64"
	case KindBF16:
		return "bf16"
	case KindFP8E4M3:
		return "fp8e4m3"
	case KindPtr:
		return "ptr"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	}
	return "invalid"
}

// IsInteger reports whether k is one of the fixed-width integer kinds.
func (k Kind) IsInteger() bool {
	switch k {
	case KindInt1, KindInt8, KindInt16, KindInt32, KindInt64:
		return true
	}
	return false
}

// IsFloat reports whether k is one of the IEEE or narrow float kinds.
func (k Kind) IsFloat() bool {
	switch k {
	case KindFloat16, KindFloat32, KindFloat64, KindBF16, KindFP8E4M3:
		return true
	}
	return false
}

// ByteSize returns the storage size of k in bytes, or 0 for kinds whose
// size depends on an Array/Struct descriptor (see Type.Size).
func (k Kind) ByteSize() int {
	switch k {
	case KindInt1, KindInt8, KindFP8E4M3:
		return 1
	case KindInt16, KindFloat16, KindBF16:
		return 2
	case KindInt32, KindFloat32:
		return 4
	case KindInt64, KindFloat64, KindPtr:
		return 8
	}
	return 0
}

// Type fully describes a Value's static type. Elem and Fields are only
// populated for KindArray / KindStruct respectively.
type Type struct {
	Kind   Kind
	Elem   *Type
	Len    int64   // element count, KindArray only
	Fields []Type  // field types in declaration order, KindStruct only
}

// Size returns the byte size of the type, including composite types.
func (t Type) Size() int {
	switch t.Kind {
	case KindArray:
		if t.Elem == nil {
			return 0
		}
		return t.Elem.Size() * int(t.Len)
	case KindStruct:
		total := 0
		for _, f := range t.Fields {
			total += f.Size()
		}
		return total
	default:
		return t.Kind.ByteSize()
	}
}

func (t Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Len, t.Elem)
	case KindStruct:
		return "struct{...}"
	default:
		return t.Kind.String()
	}
}

// Scalar builders for the common cases, used throughout the builder API
// and tests to avoid repeating struct literals.
func I1() Type      { return Type{Kind: KindInt1} }
func I8() Type      { return Type{Kind: KindInt8} }
func I16() Type     { return Type{Kind: KindInt16} }
func I32() Type     { return Type{Kind: KindInt32} }
func I64() Type     { return Type{Kind: KindInt64} }
func F16() Type     { return Type{Kind: KindFloat16} }
func F32() Type     { return Type{Kind: KindFloat32} }
func F64() Type     { return Type{Kind: KindFloat64} }
func BF16() Type    { return Type{Kind: KindBF16} }
func FP8E4M3() Type { return Type{Kind: KindFP8E4M3} }
func Ptr() Type     { return Type{Kind: KindPtr} }

// PtrTo builds a view type that remembers its element kind, so passes and
// backends that need to know what a view holds (cast validation, element
// size for load/store) don't have to thread that information separately.
// Ptr() (no element) is still used where only "this is a view" matters.
func PtrTo(elem Type) Type {
	e := elem
	return Type{Kind: KindPtr, Elem: &e}
}

func ArrayOf(elem Type, n int64) Type {
	e := elem
	return Type{Kind: KindArray, Elem: &e, Len: n}
}
