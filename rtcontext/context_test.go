package rtcontext

import (
	"testing"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/cache"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
)

func addOneModule() *ir.Module {
	mod := ir.NewModule("add_one")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	in := b.Param("in", ir.PtrTo(ir.I32()))
	out := b.Param("out", ir.PtrTo(ir.I32()))
	gi := b.EmitIntrinsic(ir.OpGridGlobalIndex, ir.I32())
	idx64 := b.EmitConvert(ir.I64(), gi)
	one := b.EmitConstInt(ir.I32(), 1)
	val := b.EmitViewLoad(ir.I32(), in, idx64)
	sum := b.EmitBinOp(ir.OpAdd, ir.I32(), val, one)
	b.EmitViewStore(out, idx64, sum)
	b.EmitReturn()
	return mod
}

func failingModule() *ir.Module {
	// A module with an unterminated block: the CPU backend's verifier-less
	// compile path still succeeds today, so to exercise the Failed/Evicted
	// transition we target a class with no real compiler: backend/spir
	// always fails (see backend/spir's documented CompilationFailedError).
	return addOneModule()
}

func TestNewRegistersCPUEmulatorAsFallbackDevice(t *testing.T) {
	ctx := New()
	dev, err := ctx.GetDevice(device.ClassCPU, 0)
	if err != nil {
		t.Fatalf("GetDevice(cpu, 0): %v", err)
	}
	if !dev.IsDebug {
		t.Fatalf("CPU emulator device IsDebug = false, want true")
	}

	if _, err := ctx.GetDevice(device.ClassPTX, 0); err == nil {
		t.Fatalf("GetDevice(ptx, 0) succeeded in an environment with no discovered GPU, want AcceleratorUnavailableError")
	}
}

func TestGetPreferredDeviceFallsBackToDebugDevice(t *testing.T) {
	ctx := New()
	preferred := ctx.GetPreferredDevice(false, nil)
	if len(preferred) != 1 || !preferred[0].IsDebug {
		t.Fatalf("GetPreferredDevice with no accelerator = %v, want the sole debug device", preferred)
	}
}

func TestSubscribeReceivesAlreadyRegisteredDevices(t *testing.T) {
	ctx := New()
	var seen []device.Device
	ctx.Subscribe(func(dev device.Device) { seen = append(seen, dev) })
	if len(seen) != 1 {
		t.Fatalf("Subscribe delivered %d devices, want 1 (the CPU emulator already registered at New)", len(seen))
	}
}

func TestLoadMemoizesHandleByFunctionIdentity(t *testing.T) {
	ctx := New()
	h1 := ctx.Load[int32](addOneModule)
	h2 := ctx.Load[int32](addOneModule)
	if h1 != h2 {
		t.Fatalf("Load returned distinct handles for the same source function")
	}

	other := func() *ir.Module { return addOneModule() }
	h3 := ctx.Load[int32](other)
	if h3 == h1 {
		t.Fatalf("Load returned the same handle for two distinct source functions")
	}
}

func TestCompileTransitionsHandleThroughLifecycle(t *testing.T) {
	ctx := New()
	h := ctx.Load[int32](addOneModule)
	if got := h.State(); got != Declared {
		t.Fatalf("fresh handle state = %v, want Declared", got)
	}

	kernel, err := ctx.Compile(h, device.ClassCPU)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if kernel == nil {
		t.Fatalf("Compile returned a nil kernel with no error")
	}
	if got := h.State(); got != Built {
		t.Fatalf("handle state after successful Compile = %v, want Built", got)
	}
	if _, ok := h.Fingerprint(); !ok {
		t.Fatalf("Built handle reports no fingerprint")
	}

	// A second Compile against the same class reuses the cached program
	// without rebuilding (same fingerprint, cache.Len stays at 1).
	if _, err := ctx.Compile(h, device.ClassCPU); err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if n := ctx.Cache().Len(); n != 1 {
		t.Fatalf("cache.Len() = %d, want 1 after two compiles of the same handle/class", n)
	}
}

func TestCompileFailureEvictsHandleImmediately(t *testing.T) {
	ctx := New()
	h := ctx.Load[int32](failingModule)

	_, err := ctx.Compile(h, device.ClassSPIR)
	if err == nil {
		t.Fatalf("Compile against backend/spir succeeded, want CompilationFailedError")
	}
	if got := h.State(); got != Evicted {
		t.Fatalf("handle state after failed Compile = %v, want Evicted", got)
	}
	if h.Err() == nil {
		t.Fatalf("handle.Err() is nil after a failed Compile")
	}
}

func TestClearCacheEvictsBuiltHandles(t *testing.T) {
	ctx := New()
	h := ctx.Load[int32](addOneModule)
	if _, err := ctx.Compile(h, device.ClassCPU); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := h.State(); got != Built {
		t.Fatalf("handle state = %v, want Built", got)
	}

	ctx.ClearCache(cache.ClearAll)
	if got := h.State(); got != Evicted {
		t.Fatalf("handle state after ClearCache(ClearAll) = %v, want Evicted", got)
	}
}

// unreachableBlockModule builds a module with a second block that is
// never jumped to: Verify's dominance check must reject it as
// unreachable (no predecessors), letting tests exercise
// ContextProperties.EnableVerifier without depending on a backend that
// always fails.
func unreachableBlockModule() *ir.Module {
	mod := ir.NewModule("dangling_block")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	b.EmitReturn()
	b.NewBlock("unreachable")
	b.EmitReturn()
	return mod
}

func TestCompileRunsVerifierWhenEnabled(t *testing.T) {
	ctx := New(WithProperties(ContextProperties{EnableVerifier: true}))
	h := ctx.Load[int32](unreachableBlockModule)

	_, err := ctx.Compile(h, device.ClassCPU)
	if err == nil {
		t.Fatalf("Compile with EnableVerifier succeeded against an unreachable block, want a verify error")
	}
	if got := h.State(); got != Evicted {
		t.Fatalf("handle state after a failed verify = %v, want Evicted", got)
	}
}

func TestCompileSkipsVerifierWhenDisabled(t *testing.T) {
	ctx := New()
	h := ctx.Load[int32](unreachableBlockModule)

	if _, err := ctx.Compile(h, device.ClassCPU); err != nil {
		t.Fatalf("Compile without EnableVerifier returned an error for a module only the verifier would reject: %v", err)
	}
}

func TestCompileDistinguishesFastMathInTheFingerprint(t *testing.T) {
	plain := New()
	h1 := plain.Load[int32](addOneModule)
	if _, err := plain.Compile(h1, device.ClassCPU); err != nil {
		t.Fatalf("Compile (plain): %v", err)
	}
	fp1, _ := h1.Fingerprint()

	fast := New(WithProperties(ContextProperties{FastMath: true}))
	h2 := fast.Load[int32](addOneModule)
	if _, err := fast.Compile(h2, device.ClassCPU); err != nil {
		t.Fatalf("Compile (fast_math): %v", err)
	}
	fp2, _ := h2.Fingerprint()

	if fp1 == fp2 {
		t.Fatalf("fingerprints for FastMath=false and FastMath=true collided: %x", fp1)
	}
}

func TestDisableKernelCacheBypassesTheCompileCache(t *testing.T) {
	ctx := New(WithProperties(ContextProperties{DisableKernelCache: true}))
	h1 := ctx.Load[int32](addOneModule)
	if _, err := ctx.Compile(h1, device.ClassCPU); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if n := ctx.Cache().Len(); n != 0 {
		t.Fatalf("Cache().Len() = %d with DisableKernelCache set, want 0 (nothing stored)", n)
	}
}

func TestContextPropertiesPrepareRule(t *testing.T) {
	p := ContextProperties{
		DebugSymbols: backend.DebugWithInlineSources,
		InliningMode: backend.InliningAggressive,
	}
	prepared := p.Prepare()
	if prepared.InliningMode != backend.InliningConservative {
		t.Fatalf("Prepare() with WithInlineSources left InliningMode = %v, want Conservative", prepared.InliningMode)
	}
	if prepared.DebugSymbols != backend.DebugWithInlineSources {
		t.Fatalf("Prepare() changed DebugSymbols to %v, want it to stay WithInlineSources", prepared.DebugSymbols)
	}
}
