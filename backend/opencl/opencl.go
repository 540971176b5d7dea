// Package opencl emits textual OpenCL-C for a Kernel IR module (spec.md
// section 6 "OpenCL backend").
package opencl

import (
	"fmt"
	"strings"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/kernelerr"
)

// SupportedVersions lists the OpenCL-C versions spec.md section 6 names:
// "Supports OpenCL-C versions {1.0, 1.1, 1.2, 2.0}, negotiated with the
// device."
var SupportedVersions = []string{"1.0", "1.1", "1.2", "2.0"}

// Backend emits one OpenCL-C kernel per compiled module.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Class() device.DeviceClass { return device.ClassOpenCL }

// NegotiateVersion returns requested when it is one of SupportedVersions,
// "1.2" when requested is empty (a conservative widely-supported floor),
// and a CompilationFailedError for any other requested version.
func NegotiateVersion(requested string) (string, error) {
	if requested == "" {
		return "1.2", nil
	}
	for _, v := range SupportedVersions {
		if v == requested {
			return v, nil
		}
	}
	return "", &kernelerr.CompilationFailedError{
		Stage:  "opencl",
		Detail: fmt.Sprintf("unsupported OpenCL-C version requested: %s", requested),
	}
}

// clType maps an IR Kind to its OpenCL-C type name. When opts narrows
// Float64 to Float32 (ContextProperties.force_32bit_floats, spec.md
// section 6), double never appears in the emitted source at all.
func clType(k ir.Kind, opts backend.CompileOptions) string {
	if opts.Force32BitFloats && k == ir.KindFloat64 {
		k = ir.KindFloat32
	}
	switch k {
	case ir.KindInt1:
		return "bool"
	case ir.KindInt8:
		return "char"
	case ir.KindInt16:
		return "short"
	case ir.KindInt32:
		return "int"
	case ir.KindInt64:
		return "long"
	case ir.KindFloat16, ir.KindBF16:
		return "half"
	case ir.KindFloat32:
		return "float"
	case ir.KindFloat64:
		return "double"
	case ir.KindPtr:
		return "__global void*"
	default:
		return "int"
	}
}

func varName(id ir.ValueID) string { return fmt.Sprintf("v%d", id) }

func (b *Backend) Compile(mod *ir.Module, opts backend.CompileOptions) (*backend.CompiledKernel, error) {
	version, err := NegotiateVersion(opts.OpenCLVersion)
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "// OpenCL C %s\n", version)
	if opts.FastMath {
		out.WriteString("#pragma OPENCL FP_CONTRACT ON\n// fast_math: relaxed IEEE semantics for math intrinsics\n")
	}

	sharedBytes := backend.StaticSharedMemoryBytes(mod)
	if sharedBytes > 0 {
		fmt.Fprintf(&out, "__local uchar %s_shared[%d];\n", mod.Fn.Name, sharedBytes)
	}

	fmt.Fprintf(&out, "__kernel void %s(", mod.Fn.Name)
	for i, p := range mod.Fn.Params {
		pv := mod.Value(p)
		if i > 0 {
			out.WriteString(", ")
		}
		ty := clType(pv.Type.Kind, opts)
		fmt.Fprintf(&out, "%s %s", ty, varName(p))
	}
	out.WriteString(") {\n")

	for _, blk := range mod.Blocks() {
		if len(blk.Insts) == 0 {
			continue
		}
		fmt.Fprintf(&out, "%s:\n", label(blk.ID, blk.Name))
		for _, id := range blk.Insts {
			emitStmt(&out, mod, mod.Value(id), opts)
		}
	}
	out.WriteString("}\n")

	slots := make([]backend.ArgSlot, 0, len(mod.Fn.Params))
	for _, p := range mod.Fn.Params {
		pv := mod.Value(p)
		kind := backend.ArgScalar
		if pv.Type.Kind == ir.KindPtr {
			kind = backend.ArgView
		}
		slots = append(slots, backend.ArgSlot{Name: pv.Name, Kind: kind, Type: pv.Type})
	}

	return &backend.CompiledKernel{
		Class:                device.ClassOpenCL,
		Bytes:                []byte(out.String()),
		EntrySymbol:           mod.Fn.Name,
		StaticSharedMemBytes:  sharedBytes,
		ArgLayout:             slots,
	}, nil
}

func label(id ir.BlockID, name string) string {
	if name == "" {
		return fmt.Sprintf("L%d", id)
	}
	return fmt.Sprintf("L%d_%s", id, name)
}

func emitStmt(out *strings.Builder, mod *ir.Module, v *ir.Value, opts backend.CompileOptions) {
	ty := clType(v.Type.Kind, opts)
	switch v.Op {
	case ir.OpConstInt:
		fmt.Fprintf(out, "\t%s %s = %d;\n", ty, varName(v.ID), v.ImmInt)
	case ir.OpConstFloat:
		fmt.Fprintf(out, "\t%s %s = %v;\n", ty, varName(v.ID), v.ImmFloat)
	case ir.OpAdd:
		binary(out, ty, v, "+")
	case ir.OpSub:
		binary(out, ty, v, "-")
	case ir.OpMul:
		binary(out, ty, v, "*")
	case ir.OpDiv:
		binary(out, ty, v, "/")
	case ir.OpAnd:
		binary(out, ty, v, "&")
	case ir.OpOr:
		binary(out, ty, v, "|")
	case ir.OpXor:
		binary(out, ty, v, "^")
	case ir.OpCmpEq:
		binary(out, "int", v, "==")
	case ir.OpCmpLt:
		binary(out, "int", v, "<")
	case ir.OpViewLoad:
		fmt.Fprintf(out, "\t%s %s = %s[%s];\n", ty, varName(v.ID), varName(v.Operands[0]), varName(v.Operands[1]))
	case ir.OpViewStore:
		fmt.Fprintf(out, "\t%s[%s] = %s;\n", varName(v.Operands[0]), varName(v.Operands[1]), varName(v.Operands[2]))
	case ir.OpGroupBarrier:
		out.WriteString("\tbarrier(CLK_LOCAL_MEM_FENCE | CLK_GLOBAL_MEM_FENCE);\n")
	case ir.OpWarpBarrier:
		out.WriteString("\tsub_group_barrier(CLK_LOCAL_MEM_FENCE);\n")
	case ir.OpJump:
		fmt.Fprintf(out, "\tgoto %s;\n", label(v.Targets[0], mod.Block(v.Targets[0]).Name))
	case ir.OpBranch:
		fmt.Fprintf(out, "\tif (%s) goto %s; else goto %s;\n", varName(v.Operands[0]),
			label(v.Targets[0], mod.Block(v.Targets[0]).Name), label(v.Targets[1], mod.Block(v.Targets[1]).Name))
	case ir.OpReturn:
		if len(v.Operands) == 0 {
			out.WriteString("\treturn;\n")
		} else {
			fmt.Fprintf(out, "\treturn; // value %s\n", varName(v.Operands[0]))
		}
	default:
		fmt.Fprintf(out, "\t// unhandled opcode %s -> %s\n", v.Op, varName(v.ID))
	}
}

func binary(out *strings.Builder, ty string, v *ir.Value, op string) {
	fmt.Fprintf(out, "\t%s %s = %s %s %s;\n", ty, varName(v.ID), varName(v.Operands[0]), op, varName(v.Operands[1]))
}
