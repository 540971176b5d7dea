package kernelerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesTheErrorsOwnKind(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		err  error
	}{
		{KindIndexRange, &IndexRangeError{Component: "x", Value: 99, Limit: 32}},
		{KindViewBounds, &ViewBoundsError{Op: "subview", Index: 0, Length: 1, ViewLen: 0}},
		{KindViewCastAlignment, &ViewCastAlignmentError{Op: "cast", Detail: "misaligned"}},
		{KindBufferDisposed, &BufferDisposedError{BufferID: 1}},
		{KindConfigInvalid, &ConfigInvalidError{Field: "group_dim", Detail: "too large"}},
		{KindIntrinsicMisuse, &IntrinsicMisuseError{Intrinsic: "broadcast", Detail: "diverged"}},
		{KindCompilationFailed, &CompilationFailedError{Stage: "verify", Detail: "bad cfg"}},
		{KindAcceleratorUnavailable, &AcceleratorUnavailableError{Class: "ptx"}},
		{KindCanceled, &CanceledError{StreamID: 1}},
		{KindOutOfMemory, &OutOfMemoryError{Requested: 4096}},
	}
	for _, c := range cases {
		if !Is(c.err, c.kind) {
			t.Fatalf("Is(%v, %s) = false, want true", c.err, c.kind)
		}
		for _, other := range cases {
			if other.kind == c.kind {
				continue
			}
			if Is(c.err, other.kind) {
				t.Fatalf("Is(%v, %s) = true, want false", c.err, other.kind)
			}
		}
	}
}

func TestIsSeesThroughWrapping(t *testing.T) {
	cause := &CanceledError{StreamID: 7}
	wrapped := fmt.Errorf("launch failed: %w", cause)
	if !Is(wrapped, KindCanceled) {
		t.Fatal("Is did not see through fmt.Errorf wrapping")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("sanity check: errors.Is should also find the wrapped cause")
	}
}

func TestErrorKindStringNamesEveryKind(t *testing.T) {
	for k := KindIndexRange; k <= KindOutOfMemory; k++ {
		if k.String() == "Unknown" {
			t.Fatalf("ErrorKind(%d) has no name", k)
		}
	}
}
