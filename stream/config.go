// Package stream implements the Stream and Launcher (spec.md section
// 4.H): the FIFO submission queue bound to one accelerator, kernel
// argument marshalling, launch configuration, and the worker pool that
// actually runs a Compiled Kernel's Callable across a grid of logical
// threads for the CPU emulator.
package stream

import (
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/idx"
	"github.com/accelcore/kernelrt/kernelerr"
)

// defaultMaxGrid bounds compute_grid_stride_kernel_config's grid_dim.x.
// spec.md section 4.H references a device-supplied "max_grid" that has no
// corresponding field in device.Capabilities (the capability set this
// module settled on, per SPEC_FULL.md section 4.C); a grid this size is
// never reached by the CPU emulator's worker pool in practice, so a fixed
// generous ceiling stands in for a per-device value until a real GPU
// backend needs a tighter one.
const defaultMaxGrid = 1 << 20

// SharedMemoryRequest describes a dynamic shared-memory allocation
// requested at launch time, per spec.md section 4.H's
// `dynamic_shared_memory: {elem_count, elem_size}`.
type SharedMemoryRequest struct {
	ElemCount int64
	ElemSize  int64
}

// Bytes returns the total byte size of the request.
func (s SharedMemoryRequest) Bytes() int64 { return s.ElemCount * s.ElemSize }

// KernelConfig is the launch-time grid/group shape, spec.md section 4.H:
// "(grid_dim: Index3D, group_dim: Index3D, dynamic_shared_memory:
// {elem_count, elem_size})".
type KernelConfig struct {
	GridDim             idx.Index3D
	GroupDim            idx.Index3D
	DynamicSharedMemory SharedMemoryRequest
}

// RuntimeKernelConfig pairs a KernelConfig with the static shared-memory
// specification a Compiled Kernel carries from lowering.
type RuntimeKernelConfig struct {
	KernelConfig
	StaticSharedMemoryBytes int64
}

// TotalSharedMemoryBytes is the static plus dynamic shared-memory
// footprint a launch must fit within the device's limit.
func (c RuntimeKernelConfig) TotalSharedMemoryBytes() int64 {
	return c.StaticSharedMemoryBytes + c.DynamicSharedMemory.Bytes()
}

func dim3Product(d idx.Index3D) int64 {
	return int64(d.X) * int64(d.Y) * int64(d.Z)
}

// Validate checks the launch's grid_dim/group_dim and shared-memory
// request against dev, per spec.md section 4.H step 4.
func (c RuntimeKernelConfig) Validate(dev device.Device) error {
	if c.GridDim.X <= 0 || c.GridDim.Y <= 0 || c.GridDim.Z <= 0 {
		return &kernelerr.ConfigInvalidError{Field: "grid_dim", Detail: "all components must be positive"}
	}
	if c.GroupDim.X <= 0 || c.GroupDim.Y <= 0 || c.GroupDim.Z <= 0 {
		return &kernelerr.ConfigInvalidError{Field: "group_dim", Detail: "all components must be positive"}
	}
	if dim3Product(c.GroupDim) > int64(dev.Capabilities.MaxGroupSize) {
		return &kernelerr.ConfigInvalidError{Field: "group_dim", Detail: "group size exceeds device max_group_size"}
	}
	if c.TotalSharedMemoryBytes() > dev.Capabilities.MaxSharedMemoryBytes {
		return &kernelerr.ConfigInvalidError{Field: "dynamic_shared_memory", Detail: "requested shared memory exceeds device limit"}
	}
	return nil
}

// ComputeGridStrideKernelConfig derives a launch config from a problem
// size, per spec.md section 4.H: group_dim.x is the device's preferred
// group size; grid_dim.x is chosen so the grid-stride loop covers
// totalElements in iterationsPerGroup steps per thread.
func ComputeGridStrideKernelConfig(dev device.Device, totalElements int64) (KernelConfig, int64) {
	groupX := int64(dev.Capabilities.PreferredGroupSize)
	if groupX <= 0 {
		groupX = 1
	}
	k := int64(dev.Capabilities.GridStrideK)
	if k <= 0 {
		k = 1
	}
	gridX := ceilDiv(totalElements, groupX*k)
	if gridX < 1 {
		gridX = 1
	}
	if gridX > defaultMaxGrid {
		gridX = defaultMaxGrid
	}
	iterationsPerGroup := ceilDiv(totalElements, gridX*groupX)
	if iterationsPerGroup < 1 {
		iterationsPerGroup = 1
	}
	cfg := KernelConfig{
		GridDim:  idx.Index3D{X: int32(gridX), Y: 1, Z: 1},
		GroupDim: idx.Index3D{X: int32(groupX), Y: 1, Z: 1},
	}
	return cfg, iterationsPerGroup
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
