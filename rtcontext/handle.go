package rtcontext

import (
	"reflect"
	"sync"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/cache"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
)

// HandleState is a Kernel Handle's position in its lifecycle, per spec.md
// section 4.J / 5: Declared -> Fingerprinted -> Building -> Built|Failed,
// Built -> Evicted on a cache clear that actually drops its entry,
// Failed -> Evicted immediately (a failed build is not retried
// automatically; Context.Load returns the same handle, and a fresh
// Compile call on it re-runs the build and re-fingerprints).
type HandleState int

const (
	Declared HandleState = iota
	Fingerprinted
	Building
	Built
	Failed
	Evicted
)

func (s HandleState) String() string {
	switch s {
	case Declared:
		return "declared"
	case Fingerprinted:
		return "fingerprinted"
	case Building:
		return "building"
	case Built:
		return "built"
	case Failed:
		return "failed"
	case Evicted:
		return "evicted"
	}
	return "unknown"
}

// KernelFunc stands in for the (out-of-scope, per spec.md section 1)
// host-side capture layer: a kernel's source is represented directly as
// a function that builds its IR module, the same shape this module's own
// tests use to hand-build modules (ir.Builder's NewBlock/EmitBinOp/...).
// T is the kernel's instantiated generic type argument, carried only for
// the registry key spec.md section 1 calls for ("the Go reflect.Type of
// the user function plus its instantiated generic type arguments").
type KernelFunc[T any] func() *ir.Module

// KernelHandle is the registry entry Context.Load returns: a declared
// kernel source plus, once compiled at least once, its fingerprint and
// compiled program.
type KernelHandle struct {
	mu sync.Mutex

	build func() *ir.Module

	state       HandleState
	fingerprint cache.Fingerprint
	class       device.DeviceClass
	mod         *ir.Module
	kernel      *backend.CompiledKernel
	err         error
}

// State reports the handle's current lifecycle state.
func (h *KernelHandle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err reports the error from the handle's most recent failed build, or
// nil if it has never failed.
func (h *KernelHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Fingerprint reports the handle's most recently computed fingerprint;
// the second return is false before the handle has reached at least the
// Fingerprinted state.
func (h *KernelHandle) Fingerprint() (cache.Fingerprint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Declared {
		return cache.Fingerprint{}, false
	}
	return h.fingerprint, true
}

// registryKey identifies a kernel source function: its code pointer (so
// two distinct functions of identical signature don't collide) alongside
// its reflect.Type and instantiated generic type argument, per spec.md
// section 1's "Go reflect.Type of the user function plus its
// instantiated generic type arguments" — reflect.Type alone only
// distinguishes signatures, not specific function values, so the code
// pointer carries the actual identity.
type registryKey struct {
	ptr uintptr
	fn  reflect.Type
	arg reflect.Type
}

func keyFor[T any](fn KernelFunc[T]) registryKey {
	var zero T
	return registryKey{
		ptr: reflect.ValueOf(fn).Pointer(),
		fn:  reflect.TypeOf(fn),
		arg: reflect.TypeOf(zero),
	}
}
