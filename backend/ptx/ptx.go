// Package ptx emits textual NVIDIA PTX for a Kernel IR module (spec.md
// section 6 "PTX backend").
package ptx

import (
	"fmt"
	"math"
	"strings"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
)

// Backend emits one PTX module per compiled kernel.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Class() device.DeviceClass { return device.ClassPTX }

// effectiveKind applies ContextProperties.force_32bit_floats: every
// Float64 register is declared and operated on as Float32 instead, per
// spec.md section 6 ("narrows Float64 math ops/conversions to Float32").
func effectiveKind(k ir.Kind, opts backend.CompileOptions) ir.Kind {
	if opts.Force32BitFloats && k == ir.KindFloat64 {
		return ir.KindFloat32
	}
	return k
}

// ptxTypeSuffix maps an IR Kind to the PTX register-type suffix used in
// instruction mnemonics (e.g. add.s32, ld.global.f32).
func ptxTypeSuffix(k ir.Kind) string {
	switch k {
	case ir.KindInt1, ir.KindInt8:
		return "s8"
	case ir.KindInt16:
		return "s16"
	case ir.KindInt32:
		return "s32"
	case ir.KindInt64:
		return "s64"
	case ir.KindFloat16, ir.KindBF16:
		return "f16"
	case ir.KindFloat32:
		return "f32"
	case ir.KindFloat64:
		return "f64"
	case ir.KindPtr:
		return "u64"
	default:
		return "b32"
	}
}

func regName(id ir.ValueID) string { return fmt.Sprintf("%%r%d", id) }

// Compile lowers mod to a textual PTX module. The entry symbol matches
// the IR function's registered name, and shared memory is declared from
// backend.StaticSharedMemoryBytes's OpLocalAlloc analysis, per spec.md
// section 6: "static shared memory declared as `.shared .align A .b8
// name[N]` where N comes from IR analysis."
func (b *Backend) Compile(mod *ir.Module, opts backend.CompileOptions) (*backend.CompiledKernel, error) {
	var out strings.Builder

	version := ".version 7.8\n.target sm_70\n.address_size 64\n"
	out.WriteString(version)
	if opts.FastMath {
		out.WriteString("// fast_math: relaxed IEEE semantics for math intrinsics\n")
	}
	out.WriteString("\n")

	sharedBytes := backend.StaticSharedMemoryBytes(mod)
	if sharedBytes > 0 {
		fmt.Fprintf(&out, ".shared .align 8 .b8 %s_shared[%d];\n\n", mod.Fn.Name, sharedBytes)
	}

	fmt.Fprintf(&out, ".visible .entry %s(\n", mod.Fn.Name)
	for i, p := range mod.Fn.Params {
		pv := mod.Value(p)
		comma := ","
		if i == len(mod.Fn.Params)-1 {
			comma = ""
		}
		fmt.Fprintf(&out, "\t.param .%s %s%s\n", ptxTypeSuffix(effectiveKind(pv.Type.Kind, opts)), regName(p), comma)
	}
	out.WriteString(")\n{\n")

	for _, blk := range mod.Blocks() {
		if len(blk.Insts) == 0 {
			continue
		}
		fmt.Fprintf(&out, "%s:\n", blockLabel(blk.ID, blk.Name))
		for _, id := range blk.Insts {
			v := mod.Value(id)
			emitInst(&out, mod, v, opts)
		}
	}
	out.WriteString("}\n")

	return &backend.CompiledKernel{
		Class:                device.ClassPTX,
		Bytes:                []byte(out.String()),
		EntrySymbol:           mod.Fn.Name,
		StaticSharedMemBytes:  sharedBytes,
		ArgLayout:             argLayout(mod),
	}, nil
}

func blockLabel(id ir.BlockID, name string) string {
	if name == "" {
		return fmt.Sprintf("BB%d", id)
	}
	return fmt.Sprintf("BB%d_%s", id, name)
}

func argLayout(mod *ir.Module) []backend.ArgSlot {
	slots := make([]backend.ArgSlot, 0, len(mod.Fn.Params))
	for _, p := range mod.Fn.Params {
		pv := mod.Value(p)
		kind := backend.ArgScalar
		if pv.Type.Kind == ir.KindPtr {
			kind = backend.ArgView
		}
		slots = append(slots, backend.ArgSlot{Name: pv.Name, Kind: kind, Type: pv.Type})
	}
	return slots
}

func emitInst(out *strings.Builder, mod *ir.Module, v *ir.Value, opts backend.CompileOptions) {
	suffix := ptxTypeSuffix(effectiveKind(v.Type.Kind, opts))
	switch v.Op {
	case ir.OpConstInt:
		fmt.Fprintf(out, "\tmov.%s %s, %d;\n", suffix, regName(v.ID), v.ImmInt)
	case ir.OpConstFloat:
		fmt.Fprintf(out, "\tmov.%s %s, 0d%016X;\n", suffix, regName(v.ID), math.Float64bits(v.ImmFloat))
	case ir.OpAdd:
		binOp(out, "add", suffix, v)
	case ir.OpSub:
		binOp(out, "sub", suffix, v)
	case ir.OpMul:
		binOp(out, "mul.lo", suffix, v)
	case ir.OpDiv:
		binOp(out, "div", suffix, v)
	case ir.OpAnd:
		binOp(out, "and", suffix, v)
	case ir.OpOr:
		binOp(out, "or", suffix, v)
	case ir.OpXor:
		binOp(out, "xor", suffix, v)
	case ir.OpViewLoad:
		fmt.Fprintf(out, "\tld.global.%s %s, [%s];\n", suffix, regName(v.ID), regName(v.Operands[0]))
	case ir.OpViewStore:
		fmt.Fprintf(out, "\tst.global.%s [%s], %s;\n", ptxTypeSuffix(effectiveKind(mod.Value(v.Operands[2]).Type.Kind, opts)), regName(v.Operands[0]), regName(v.Operands[2]))
	case ir.OpGroupBarrier, ir.OpWarpBarrier:
		out.WriteString("\tbar.sync 0;\n")
	case ir.OpJump:
		fmt.Fprintf(out, "\tbra %s;\n", blockLabel(v.Targets[0], mod.Block(v.Targets[0]).Name))
	case ir.OpBranch:
		fmt.Fprintf(out, "\t@%s bra %s;\n\tbra %s;\n", regName(v.Operands[0]),
			blockLabel(v.Targets[0], mod.Block(v.Targets[0]).Name),
			blockLabel(v.Targets[1], mod.Block(v.Targets[1]).Name))
	case ir.OpReturn:
		out.WriteString("\tret;\n")
	default:
		fmt.Fprintf(out, "\t// unhandled opcode %s -> %s\n", v.Op, regName(v.ID))
	}
}

func binOp(out *strings.Builder, mnemonic, suffix string, v *ir.Value) {
	fmt.Fprintf(out, "\t%s.%s %s, %s, %s;\n", mnemonic, suffix, regName(v.ID), regName(v.Operands[0]), regName(v.Operands[1]))
}
