package stream

import (
	"github.com/accelcore/kernelrt/backend"
	cpubackend "github.com/accelcore/kernelrt/backend/cpu"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/view"
)

// Arg is one marshalled launch argument: a scalar passed by value, a view
// flattened to its raw byte span plus element kind, per spec.md section
// 4.H step 3 ("each argument is either a scalar..., a view..., or a small
// struct by value"). Struct arguments are represented as ArgScalar here:
// the CPU interpreter only ever unpacks scalars and views out of a
// kernel's Go env (see backend/cpu's runtime value representation), so a
// small struct-by-value argument degrades to whatever Go value the caller
// already holds.
type Arg struct {
	kind     backend.ArgKind
	scalar   any
	bytes    view.View[byte]
	elemKind ir.Kind
}

// Scalar wraps a plain scalar argument (int64, float64, bool — the three
// Go representations the CPU interpreter's runtime values use).
func Scalar(v any) Arg {
	return Arg{kind: backend.ArgScalar, scalar: v}
}

// View wraps a typed view argument, recording the ir.Kind backends need to
// interpret its raw bytes.
func View[T view.Elem](v view.View[T], elemKind ir.Kind) Arg {
	return Arg{kind: backend.ArgView, bytes: view.AsRawBytes(v), elemKind: elemKind}
}

// marshalForCPU packs args into the []any the backend/cpu Callable
// expects: the bare scalar for ArgScalar slots, an opaque cpu.ViewArg
// value for ArgView slots.
func marshalForCPU(args []Arg) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch a.kind {
		case backend.ArgView:
			out[i] = cpubackend.ViewArg(a.bytes, a.elemKind)
		default:
			out[i] = a.scalar
		}
	}
	return out
}
