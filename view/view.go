// Package view implements ArrayView[T], the non-owning typed handle over a
// device memory buffer that is the sole legal memory handle inside a
// kernel. Views compose (subview, cast, align_to) without ever touching
// the backing buffer; only the host APIs that issue or dispose buffers
// allocate or free memory.
package view

import (
	"unsafe"

	"github.com/accelcore/kernelrt/kernelerr"
)

// Backend is the minimal surface a view needs from its owning buffer: a
// byte span and a liveness check. buffer.Buffer implements this; it
// is kept narrow here so the view package never imports buffer and the
// dependency only runs one way (buffer depends on nothing, view depends on
// this interface, stream/scan depend on both).
type Backend interface {
	// Bytes returns the buffer's full backing byte span. Callers must not
	// retain it past the buffer's disposal.
	Bytes() []byte
	// Alive reports whether the buffer has not been disposed.
	Alive() bool
	// ID identifies the buffer for error payloads.
	ID() uint64
}

// Elem is the set of element types a view may hold: the fixed-width
// integer and floating point basic types named in spec.md section 3, plus
// any named type whose underlying type is one of these; struct element
// types are not admitted.
type Elem interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Stride is implemented by idx.Dense, idx.General, idx.Strided1D.
type Stride interface {
	Offset(i int64) int64
	Rank() int
}

type denseStride struct{}

func (denseStride) Offset(i int64) int64 { return i }
func (denseStride) Rank() int            { return 0 }

// Dense is the default unit stride used by newly-issued views.
var Dense Stride = denseStride{}

// View is a non-owning typed handle (buffer, base_offset_in_elements,
// length, stride). The zero value is the invalid view.
type View[T Elem] struct {
	buf      Backend
	baseElem int64
	length   int64
	stride   Stride
}

// New constructs a view over the whole of buf, interpreted as T elements
// with a dense stride. It is the counterpart of MemoryBuffer.as_view().
func New[T Elem](buf Backend) View[T] {
	var zero T
	sz := int64(unsafe.Sizeof(zero))
	n := int64(len(buf.Bytes())) / sz
	return View[T]{buf: buf, baseElem: 0, length: n, stride: Dense}
}

// IsValid reports buffer != nil && length > 0, per spec.md section 3.
func (v View[T]) IsValid() bool {
	return v.buf != nil && v.length > 0
}

// Len returns the number of elements the view spans.
func (v View[T]) Len() int64 { return v.length }

// LenBytes returns the byte span the view covers.
func (v View[T]) LenBytes() int64 { return v.length * v.ElementSize() }

// ElementSize returns sizeof(T) in bytes.
func (v View[T]) ElementSize() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// Stride returns the view's stride.
func (v View[T]) Stride() Stride { return v.stride }

// elemOffset returns the element offset of logical index i from the base.
func (v View[T]) elemOffset(i int64) int64 {
	return v.baseElem + v.stride.Offset(i)
}

// IndexElement returns a pointer to the i-th element. Precondition:
// 0 <= i < Len(). Out-of-bounds access is a contract violation: in
// assertions mode the caller should have validated through Get/Set (which
// return errors); this method itself always trusts its precondition, as
// the spec requires out-of-bounds to be either detected by the caller or
// undefined, never silently clamped.
func (v View[T]) IndexElement(i int64) *T {
	off := v.elemOffset(i)
	b := v.buf.Bytes()
	base := unsafe.Pointer(&b[0])
	return (*T)(unsafe.Add(base, uintptr(off)*uintptr(v.ElementSize())))
}

// Get performs a checked element read, returning ViewBoundsError on an
// out-of-range index instead of relying on undefined behavior.
func (v View[T]) Get(i int64) (T, error) {
	if !v.boundsOK(i) {
		var zero T
		return zero, &kernelerr.ViewBoundsError{Op: "index_element", Index: i, Length: 1, ViewLen: v.length}
	}
	if !v.buf.Alive() {
		var zero T
		return zero, &kernelerr.BufferDisposedError{BufferID: v.buf.ID()}
	}
	return *v.IndexElement(i), nil
}

// Set performs a checked element write.
func (v View[T]) Set(i int64, val T) error {
	if !v.boundsOK(i) {
		return &kernelerr.ViewBoundsError{Op: "index_element", Index: i, Length: 1, ViewLen: v.length}
	}
	if !v.buf.Alive() {
		return &kernelerr.BufferDisposedError{BufferID: v.buf.ID()}
	}
	*v.IndexElement(i) = val
	return nil
}

func (v View[T]) boundsOK(i int64) bool {
	return i >= 0 && i < v.length
}

// Subview returns v[i:i+n). Requires 0 <= i && i+n <= v.Len().
func (v View[T]) Subview(i, n int64) (View[T], error) {
	if i < 0 || n < 0 || i+n > v.length {
		return View[T]{}, &kernelerr.ViewBoundsError{Op: "subview", Index: i, Length: n, ViewLen: v.length}
	}
	return View[T]{
		buf:      v.buf,
		baseElem: v.baseElem + v.stride.Offset(i),
		length:   n,
		stride:   v.stride,
	}, nil
}

// RawBytes returns the raw byte span covering n elements starting at
// logical index i. It exists for interpreters (backend/cpu) that decode
// and encode values according to a runtime-known element kind rather than
// a compile-time Go type parameter, so they cannot go through Get/Set.
func (v View[T]) RawBytes(i, n int64) ([]byte, error) {
	if i < 0 || n < 0 || i+n > v.length {
		return nil, &kernelerr.ViewBoundsError{Op: "index_element", Index: i, Length: n, ViewLen: v.length}
	}
	if !v.buf.Alive() {
		return nil, &kernelerr.BufferDisposedError{BufferID: v.buf.ID()}
	}
	if _, dense := v.stride.(denseStride); !dense {
		return nil, &kernelerr.ViewCastAlignmentError{Op: "raw_bytes", Detail: "raw byte access requires a dense stride"}
	}
	elemSize := v.ElementSize()
	start := (v.baseElem + i) * elemSize
	end := start + n*elemSize
	b := v.buf.Bytes()
	return b[start:end], nil
}

// AlignToBytes is the untyped counterpart of View[T].AlignTo: it aligns a
// byte view whose logical element size (elemSize) is only known at
// runtime, the situation backend/cpu is in when it executes OpViewAlignTo
// against a Kernel IR view.Elem it decoded from an ir.Kind.
func AlignToBytes(v View[byte], elemSize, alignBytes int64) (prefix, main View[byte], err error) {
	if alignBytes <= 0 || alignBytes&(alignBytes-1) != 0 {
		return View[byte]{}, View[byte]{}, &kernelerr.ViewCastAlignmentError{
			Op: "align_to", Detail: "alignment must be a power of two",
		}
	}
	if alignBytes%elemSize != 0 {
		return View[byte]{}, View[byte]{}, &kernelerr.ViewCastAlignmentError{
			Op: "align_to", Detail: "alignment must be a multiple of sizeof(T)",
		}
	}
	if !v.IsValid() {
		return View[byte]{}, View[byte]{}, nil
	}
	elementCount := v.length / elemSize
	b := v.buf.Bytes()
	base := uintptr(unsafe.Pointer(&b[0])) + uintptr(v.baseElem)
	align := uintptr(alignBytes)
	misalignment := base % align
	var prefixElems int64
	if misalignment != 0 {
		padBytes := int64(align) - int64(misalignment)
		prefixElems = padBytes / elemSize
		if prefixElems > elementCount {
			prefixElems = elementCount
		}
	}
	prefix, err = v.Subview(0, prefixElems*elemSize)
	if err != nil {
		return View[byte]{}, View[byte]{}, err
	}
	main, err = v.Subview(prefixElems*elemSize, v.length-prefixElems*elemSize)
	if err != nil {
		return View[byte]{}, View[byte]{}, err
	}
	return prefix, main, nil
}

// RawBackend exposes v's backing Backend plus its absolute byte offset
// and byte length within that backend. It exists for host-side APIs
// (stream.Stream's queued copy/fill operations) that must mutate the
// buffer directly, scoped to the view's own subrange, rather than through
// the per-element Get/Set/RawBytes surface kernels use.
func (v View[T]) RawBackend() (backend Backend, byteOffset, byteLen int64) {
	return v.buf, v.baseElem * v.ElementSize(), v.length * v.ElementSize()
}

// AsRawBytes reinterprets the view as a byte view. This is always legal
// (it never changes alignment requirements); the inverse direction
// requires an explicit Cast.
func AsRawBytes[T Elem](v View[T]) View[byte] {
	return View[byte]{
		buf:      v.buf,
		baseElem: v.baseElem * v.ElementSize(),
		length:   v.length * v.ElementSize(),
		stride:   Dense,
	}
}

// Cast reinterprets v's element type as U. Requires sizeof(U) to evenly
// divide v.Len()*sizeof(T); the new length is (v.Len()*sizeof(T))/sizeof(U).
// Only defined for Dense-strided views: a strided cast would require
// per-dimension stride rescaling the spec does not define.
func Cast[T, U Elem](v View[T]) (View[U], error) {
	if _, dense := v.stride.(denseStride); !dense {
		return View[U]{}, &kernelerr.ViewCastAlignmentError{Op: "cast", Detail: "cast requires a dense stride"}
	}
	var zeroU U
	srcBytes := v.length * v.ElementSize()
	dstSize := int64(unsafe.Sizeof(zeroU))
	if srcBytes%dstSize != 0 {
		return View[U]{}, &kernelerr.ViewCastAlignmentError{
			Op:     "cast",
			Detail: "element size does not evenly divide view byte length",
		}
	}
	baseBytes := v.baseElem * v.ElementSize()
	if baseBytes%dstSize != 0 {
		return View[U]{}, &kernelerr.ViewCastAlignmentError{
			Op:     "cast",
			Detail: "base offset is not a multiple of the target element size",
		}
	}
	return View[U]{
		buf:      v.buf,
		baseElem: baseBytes / dstSize,
		length:   srcBytes / dstSize,
		stride:   Dense,
	}, nil
}

// AlignTo splits v into (prefix, main) such that main's base address is a
// multiple of alignBytes, prefix.Len() is minimal and <= v.Len(). alignBytes
// must be a power of two and a multiple of sizeof(T).
func (v View[T]) AlignTo(alignBytes int64) (prefix, main View[T], err error) {
	if alignBytes <= 0 || alignBytes&(alignBytes-1) != 0 {
		return View[T]{}, View[T]{}, &kernelerr.ViewCastAlignmentError{
			Op: "align_to", Detail: "alignment must be a power of two",
		}
	}
	elemSize := v.ElementSize()
	if alignBytes%elemSize != 0 {
		return View[T]{}, View[T]{}, &kernelerr.ViewCastAlignmentError{
			Op: "align_to", Detail: "alignment must be a multiple of sizeof(T)",
		}
	}
	if !v.IsValid() {
		return View[T]{}, View[T]{}, nil
	}
	b := v.buf.Bytes()
	base := uintptr(unsafe.Pointer(&b[0])) + uintptr(v.baseElem*elemSize)
	align := uintptr(alignBytes)
	misalignment := base % align
	var prefixElems int64
	if misalignment != 0 {
		padBytes := int64(align) - int64(misalignment)
		prefixElems = padBytes / elemSize
		if prefixElems > v.length {
			prefixElems = v.length
		}
	}
	prefix, err = v.Subview(0, prefixElems)
	if err != nil {
		return View[T]{}, View[T]{}, err
	}
	main, err = v.Subview(prefixElems, v.length-prefixElems)
	if err != nil {
		return View[T]{}, View[T]{}, err
	}
	return prefix, main, nil
}
