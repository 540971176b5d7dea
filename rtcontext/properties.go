package rtcontext

import "github.com/accelcore/kernelrt/backend"

// ContextProperties is the configuration surface spec.md section 6 names:
// the subset of options that influence IR lowering plus the two
// diagnostic toggles (enable_assertions, enable_verifier). The zero value
// is the spec's documented default: Aggressive inlining, no debug
// symbols, no relaxed math.
type ContextProperties struct {
	OptimizationLevel  backend.OptimizationLevel
	InliningMode       backend.InliningMode
	FastMath           bool
	Force32BitFloats   bool
	DebugSymbols       backend.DebugSymbols
	EnableAssertions   bool
	EnableVerifier     bool
	DisableKernelCache bool
	PTXFeatures        backend.PTXFeatures
	OpenCLVersion      string
}

// Prepare applies spec.md section 6's preparation rule and returns the
// normalized properties a Context actually compiles with: requesting
// WithInlineSources debug symbols implies at least Basic (trivially true
// given the enum's ordering, asserted here rather than left implicit),
// and since inlining destroys the line mapping inline sources depend on,
// requesting WithInlineSources together with Aggressive inlining
// downgrades inlining to Conservative so the emitted debug info stays
// meaningful. See DESIGN.md for why this reading was chosen over the
// spec prose's more compressed phrasing.
func (p ContextProperties) Prepare() ContextProperties {
	out := p
	if out.DebugSymbols == backend.DebugWithInlineSources {
		if out.DebugSymbols < backend.DebugBasic {
			out.DebugSymbols = backend.DebugBasic
		}
		if out.InliningMode == backend.InliningAggressive {
			out.InliningMode = backend.InliningConservative
		}
	}
	return out
}

// ToCompileOptions projects the properties relevant to kernel lowering
// into the shape backend.Backend.Compile and the Compile Cache's
// Fingerprint computation expect.
func (p ContextProperties) ToCompileOptions() backend.CompileOptions {
	prepared := p.Prepare()
	return backend.CompileOptions{
		OptimizationLevel: prepared.OptimizationLevel,
		FastMath:          prepared.FastMath,
		Force32BitFloats:  prepared.Force32BitFloats,
		InliningMode:      prepared.InliningMode,
		DebugSymbols:      prepared.DebugSymbols,
		EnableAssertions:  prepared.EnableAssertions,
		EnableVerifier:    prepared.EnableVerifier,
		PTXFeatures:       prepared.PTXFeatures,
		OpenCLVersion:     prepared.OpenCLVersion,
	}
}
