// Command kerneldump is a diagnostic CLI (SPEC_FULL.md section 6,
// teacher precedent cmd/ie32to64): it loads a cache directory-less,
// in-process rtcontext.Context, triggers a couple of representative
// kernels, and prints their IR, PTX, and OpenCL-C text plus Compile
// Cache statistics to the terminal, paging through golang.org/x/term
// when stdout is attached to one — the same library the teacher's
// interactive monitor (terminal_host.go) uses for raw-mode terminal
// I/O. It is outside the CORE (spec.md section 1 excludes "CLI
// wrapping") and depends only on this module's public API.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/rtcontext"
)

func main() {
	ctx := rtcontext.New(rtcontext.WithVerbose(true))

	var out strings.Builder
	for _, k := range representativeKernels() {
		dumpKernel(&out, ctx, k)
	}
	fmt.Fprintf(&out, "\ncompile cache: %d entr(ies)\n", ctx.Cache().Len())

	page(out.String())
}

type kernelSample struct {
	name  string
	build func() *ir.Module
}

// representativeKernels builds the small, hand-authored IR modules this
// module's own tests already use as the capture-layer stand-in (ir.Module
// built directly via ir.Builder, since the host-side capture front end is
// out of scope per spec.md section 1).
func representativeKernels() []kernelSample {
	return []kernelSample{
		{name: "add_one", build: addOneModule},
		{name: "out_of_range_store", build: outOfRangeStoreModule},
	}
}

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

func outOfRangeStoreModule() *ir.Module {
	mod := ir.NewModule("out_of_range_store")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	out := b.Param("out", ir.PtrTo(ir.I64()))
	badIdx := b.EmitConstInt(ir.I64(), 99)
	one := b.EmitConstInt(ir.I64(), 1)
	b.EmitViewStore(out, badIdx, one)
	b.EmitReturn()
	return mod
}

func dumpKernel(out *strings.Builder, ctx *rtcontext.Context, sample kernelSample) {
	fmt.Fprintf(out, "=== kernel: %s ===\n\n", sample.name)

	mod := sample.build()
	fmt.Fprintf(out, "-- ir --\n%s\n", dumpModule(mod))

	for _, class := range []device.DeviceClass{device.ClassCPU, device.ClassPTX, device.ClassOpenCL, device.ClassSPIR} {
		handle := ctx.Load[int32](sample.build)
		kernel, err := ctx.Compile(handle, class)
		if err != nil {
			fmt.Fprintf(out, "-- %s --\n%v\n\n", class, err)
			continue
		}
		if len(kernel.Bytes) > 0 {
			fmt.Fprintf(out, "-- %s --\n%s\n\n", class, string(kernel.Bytes))
		} else {
			fmt.Fprintf(out, "-- %s --\n(in-memory callable; entry=%s)\n\n", class, kernel.EntrySymbol)
		}
	}
}

// dumpModule renders mod as a flat instruction listing: one line per
// value, in definition order, naming its opcode, type, and operands.
func dumpModule(mod *ir.Module) string {
	var sb strings.Builder
	for _, blk := range mod.Blocks() {
		fmt.Fprintf(&sb, "block %s:\n", blk.Name)
		for _, id := range blk.Insts {
			v := mod.Value(id)
			fmt.Fprintf(&sb, "  %%%d = %s %s", v.ID, v.Op, v.Type.Kind)
			for _, op := range v.Operands {
				fmt.Fprintf(&sb, " %%%d", op)
			}
			if v.Op == ir.OpConstInt {
				fmt.Fprintf(&sb, " #%d", v.ImmInt)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// page writes text to stdout, pausing every terminal-height-minus-one
// lines when stdout is a real terminal (golang.org/x/term.IsTerminal),
// matching the teacher's terminal_host.go precedent for raw-mode
// terminal interaction rather than introducing a third-party pager.
func page(text string) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fmt.Print(text)
		return
	}

	_, height, err := term.GetSize(fd)
	if err != nil || height <= 1 {
		fmt.Print(text)
		return
	}

	lines := strings.Split(text, "\n")
	reader := bufio.NewReader(os.Stdin)
	for i := 0; i < len(lines); i++ {
		fmt.Println(lines[i])
		if (i+1)%(height-1) == 0 && i != len(lines)-1 {
			fmt.Print("-- more (press Enter) --")
			_, _ = reader.ReadString('\n')
		}
	}
}
