package spir

import (
	"errors"
	"testing"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/kernelerr"
)

func TestClassIsSPIR(t *testing.T) {
	if got := New().Class(); got != device.ClassSPIR {
		t.Fatalf("Class() = %v, want ClassSPIR", got)
	}
}

func TestCompileAlwaysFailsWithCompilationFailedError(t *testing.T) {
	mod := ir.NewModule("empty")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	b.EmitReturn()

	_, err := New().Compile(mod, backend.CompileOptions{})
	if err == nil {
		t.Fatalf("Compile succeeded, want CompilationFailedError")
	}
	var cfe *kernelerr.CompilationFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("Compile error = %v (%T), want *kernelerr.CompilationFailedError", err, err)
	}
	if cfe.Stage != "spir" {
		t.Fatalf("CompilationFailedError.Stage = %q, want %q", cfe.Stage, "spir")
	}
}
