// Package backend defines the common contract every target (CPU emulator,
// PTX, OpenCL, SPIR-stub) implements to translate a Kernel IR module into
// a device-runnable program (spec.md section 4.F).
package backend

import (
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
)

// DebugSymbols mirrors ContextProperties.debug_symbols (spec.md section 6).
type DebugSymbols int

const (
	DebugNone DebugSymbols = iota
	DebugBasic
	DebugWithInlineSources
)

// InliningMode mirrors ContextProperties.inlining_mode.
type InliningMode int

const (
	InliningAggressive InliningMode = iota
	InliningConservative
	InliningNone
)

// PTXFeatures mirrors ContextProperties.ptx_features.
type PTXFeatures int

const (
	PTXDefault PTXFeatures = iota
	PTXEnhanced
)

// OptimizationLevel mirrors ContextProperties.optimization_level: it
// controls the default aggressiveness of the IR pass pipeline rtcontext
// runs before fingerprinting (spec.md section 6: "controls inlining and
// constant-propagation defaults").
type OptimizationLevel int

const (
	OptDebug OptimizationLevel = iota
	OptRelease
	OptO2
)

// CompileOptions carries the subset of ContextProperties (spec.md section
// 6) that influences lowering; the Kernel Fingerprint is computed over
// these bits plus kernel identity (spec.md section 3).
type CompileOptions struct {
	OptimizationLevel OptimizationLevel
	FastMath          bool
	Force32BitFloats  bool
	InliningMode      InliningMode
	DebugSymbols      DebugSymbols
	EnableAssertions  bool
	EnableVerifier    bool
	PTXFeatures       PTXFeatures
	OpenCLVersion     string // requested version for the OpenCL backend
}

// ArgKind classifies one marshalled kernel argument slot (spec.md section
// 4.H: "each argument is either a scalar, a view..., or a small struct").
type ArgKind int

const (
	ArgScalar ArgKind = iota
	ArgView
	ArgStruct
)

// ArgSlot describes one entry of a Compiled Kernel's argument layout.
type ArgSlot struct {
	Name string
	Kind ArgKind
	Type ir.Type
}

// CompiledKernel is the opaque handle spec.md section 3 describes: target
// program bytes, entry symbol, static shared-memory requirement, argument
// layout, and the originating fingerprint. The CPU backend additionally
// populates Callable.
type CompiledKernel struct {
	Class                device.DeviceClass
	Bytes                []byte // textual source for ptx/opencl; unused for cpu
	EntrySymbol           string
	StaticSharedMemBytes  int64
	ArgLayout             []ArgSlot
	Fingerprint           [32]byte

	// Callable is set only by backend/cpu: an in-memory callable closure
	// per spec.md section 6 ("CPU emulator: in-memory callable closure").
	Callable CPUEntryPoint
}

// CPUEntryPoint is the signature backend/cpu's compiled kernels expose:
// one call per logical thread, receiving its bound Thread handle and the
// marshalled argument values in declaration order.
type CPUEntryPoint func(t *device.Thread, args []any)

// Backend translates an IR module to a target-specific program.
type Backend interface {
	Class() device.DeviceClass
	Compile(mod *ir.Module, opts CompileOptions) (*CompiledKernel, error)
}

// StaticSharedMemoryBytes walks an IR module's OpLocalAlloc sites with a
// constant element count and returns their total byte requirement, the
// analysis spec.md section 4.F requires every non-CPU backend to perform
// before declaring shared memory in its emitted program.
func StaticSharedMemoryBytes(mod *ir.Module) int64 {
	var total int64
	for i := range mod.Values() {
		v := mod.Values()[i]
		if v.Op != ir.OpLocalAlloc {
			continue
		}
		nVal := mod.Value(v.Operands[0])
		if nVal.Op != ir.OpConstInt {
			continue // dynamic count: not part of the static declaration
		}
		elemSize := int64(1)
		if v.Type.Elem != nil {
			elemSize = int64(v.Type.Elem.Size())
		}
		total += nVal.ImmInt * elemSize
	}
	return total
}
