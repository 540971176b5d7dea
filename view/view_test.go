package view

import (
	"errors"
	"testing"

	"github.com/accelcore/kernelrt/kernelerr"
)

// fakeBuffer is a minimal Backend for view tests, independent of the real
// buffer package so this package has no import cycle risk.
type fakeBuffer struct {
	bytes []byte
	id    uint64
	dead  bool
}

func (f *fakeBuffer) Bytes() []byte { return f.bytes }
func (f *fakeBuffer) Alive() bool   { return !f.dead }
func (f *fakeBuffer) ID() uint64    { return f.id }

func newFakeU32(n int) (*fakeBuffer, View[uint32]) {
	buf := &fakeBuffer{bytes: make([]byte, n*4)}
	return buf, New[uint32](buf)
}

func TestViewBasic(t *testing.T) {
	_, v := newFakeU32(1024)
	if v.Len() != 1024 {
		t.Fatalf("Len() = %d, want 1024", v.Len())
	}
	if !v.IsValid() {
		t.Fatal("expected valid view")
	}
	if err := v.Set(10, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get(10)
	if err != nil || got != 42 {
		t.Fatalf("Get(10) = %v, %v, want 42, nil", got, err)
	}
}

func TestSubviewRoundTrip(t *testing.T) {
	_, v := newFakeU32(1024)
	for i := int64(0); i < 1024; i++ {
		_ = v.Set(i, uint32(i))
	}

	a, err := v.Subview(256, 512)
	if err != nil {
		t.Fatalf("Subview: %v", err)
	}
	b, err := a.Subview(0, 128)
	if err != nil {
		t.Fatalf("Subview: %v", err)
	}
	c, err := v.Subview(256, 128)
	if err != nil {
		t.Fatalf("Subview: %v", err)
	}
	if b.Len() != c.Len() {
		t.Fatalf("length mismatch: %d vs %d", b.Len(), c.Len())
	}
	for i := int64(0); i < b.Len(); i++ {
		gb, _ := b.Get(i)
		gc, _ := c.Get(i)
		if gb != gc {
			t.Fatalf("element %d: %d != %d", i, gb, gc)
		}
	}
}

func TestSubviewOutOfRange(t *testing.T) {
	_, v := newFakeU32(16)
	_, err := v.Subview(10, 10)
	if err == nil {
		t.Fatal("expected ViewBoundsError")
	}
	var vb *kernelerr.ViewBoundsError
	if !errors.As(err, &vb) {
		t.Fatalf("expected ViewBoundsError, got %T", err)
	}
}

func TestCastByteToU32(t *testing.T) {
	buf := &fakeBuffer{bytes: make([]byte, 16)}
	bv := New[byte](buf)
	u32, err := Cast[byte, uint32](bv)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if u32.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", u32.Len())
	}
}

func TestCastAlignmentFailure(t *testing.T) {
	buf := &fakeBuffer{bytes: make([]byte, 6)} // 6 bytes: not a multiple of 4
	bv := New[byte](buf)
	_, err := Cast[byte, uint32](bv)
	if err == nil {
		t.Fatal("expected ViewCastAlignmentError")
	}
	var ca *kernelerr.ViewCastAlignmentError
	if !errors.As(err, &ca) {
		t.Fatalf("expected ViewCastAlignmentError, got %T", err)
	}
}

func TestAlignToAlreadyAligned(t *testing.T) {
	buf := &fakeBuffer{bytes: make([]byte, 1024)}
	v := New[byte](buf)
	// The slice's backing array may not start at an 8-byte boundary in
	// general, so only assert the invariants that must hold regardless.
	prefix, main, err := v.AlignTo(8)
	if err != nil {
		t.Fatalf("AlignTo: %v", err)
	}
	if prefix.Len()+main.Len() != v.Len() {
		t.Fatalf("prefix.Len()+main.Len() = %d, want %d", prefix.Len()+main.Len(), v.Len())
	}
	if prefix.Len() >= 8 {
		t.Fatalf("prefix.Len() = %d, want < alignment/sizeof(T)", prefix.Len())
	}
}

func TestAlignToRejectsNonPowerOfTwo(t *testing.T) {
	buf := &fakeBuffer{bytes: make([]byte, 64)}
	v := New[byte](buf)
	_, _, err := v.AlignTo(3)
	if err == nil {
		t.Fatal("expected error for non-power-of-two alignment")
	}
}

func TestDisposedBufferFailsAccess(t *testing.T) {
	buf := &fakeBuffer{bytes: make([]byte, 64)}
	v := New[byte](buf)
	buf.dead = true
	_, err := v.Get(0)
	var bd *kernelerr.BufferDisposedError
	if !errors.As(err, &bd) {
		t.Fatalf("expected BufferDisposedError, got %T", err)
	}
}
