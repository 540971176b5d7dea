// Package spir registers the generic-SPIR device class without providing
// a working compiler: binary SPIR-V encoding is an external collaborator
// (spec.md section 1 "out of scope... disk-format assembly emission"),
// so this backend documents the boundary explicitly instead of silently
// omitting the class from the registry.
package spir

import (
	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/kernelerr"
)

// Backend is the SPIR stub. Compile always fails with CompilationFailedError.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Class() device.DeviceClass { return device.ClassSPIR }

func (b *Backend) Compile(mod *ir.Module, opts backend.CompileOptions) (*backend.CompiledKernel, error) {
	return nil, &kernelerr.CompilationFailedError{
		Stage:  "spir",
		Detail: "binary SPIR-V encoding is an external collaborator; see spec.md Non-goals",
	}
}
