package buffer

import (
	"errors"
	"testing"

	"github.com/accelcore/kernelrt/kernelerr"
)

func TestAllocateHostAndDispose(t *testing.T) {
	buf, err := AllocateHost("cpu:0", 4096)
	if err != nil {
		t.Fatalf("AllocateHost: %v", err)
	}
	if buf.LenBytes() != 4096 {
		t.Fatalf("LenBytes() = %d, want 4096", buf.LenBytes())
	}
	if !buf.Alive() {
		t.Fatal("expected alive buffer")
	}
	buf.Dispose()
	if buf.Alive() {
		t.Fatal("expected disposed buffer to report not alive")
	}
	// Second dispose is a no-op, not a panic or error.
	buf.Dispose()
}

func TestDisposedBufferRejectsOps(t *testing.T) {
	buf, err := AllocateHost("cpu:0", 64)
	if err != nil {
		t.Fatalf("AllocateHost: %v", err)
	}
	buf.Dispose()

	err = buf.copyFromHost([]byte{1, 2, 3}, 0)
	var bd *kernelerr.BufferDisposedError
	if !errors.As(err, &bd) {
		t.Fatalf("expected BufferDisposedError, got %v", err)
	}
}

func TestCopyRoundTrip(t *testing.T) {
	buf, err := AllocateHost("cpu:0", 64)
	if err != nil {
		t.Fatalf("AllocateHost: %v", err)
	}
	defer buf.Dispose()

	src := []byte{1, 2, 3, 4}
	if err := buf.copyFromHost(src, 8); err != nil {
		t.Fatalf("copyFromHost: %v", err)
	}
	dst := make([]byte, 4)
	if err := buf.copyToHost(dst, 8); err != nil {
		t.Fatalf("copyToHost: %v", err)
	}
	for i := range src {
		if src[i] != dst[i] {
			t.Fatalf("byte %d: %d != %d", i, src[i], dst[i])
		}
	}
}

func TestWithTemporaryReleasesOnError(t *testing.T) {
	released := false
	alloc := func() (*Buffer, error) {
		b := New("cpu:0", make([]byte, 16), 8, func() { released = true })
		return b, nil
	}
	err := WithTemporary(alloc, func(b *Buffer) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if !released {
		t.Fatal("expected buffer to be released even on error")
	}
}

func TestFillRangeZeroesOnlyTheGivenSpan(t *testing.T) {
	buf := New("cpu:0", []byte{1, 2, 3, 4}, 1, nil)
	if err := buf.fillRange(0, 1, 2); err != nil {
		t.Fatalf("fillRange: %v", err)
	}
	want := []byte{1, 0, 0, 4}
	got := buf.Bytes()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fillRange(0, 1, 2) = %v, want %v", got, want)
		}
	}
}

func TestFillRangeRejectsOutOfBoundsSpan(t *testing.T) {
	buf := New("cpu:0", []byte{1, 2, 3, 4}, 1, nil)
	if err := buf.fillRange(0, 2, 10); err == nil {
		t.Fatal("expected an out-of-bounds fillRange to error")
	}
}
