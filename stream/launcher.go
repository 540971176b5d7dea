package stream

import (
	"fmt"
	"sync"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/idx"
)

// runGrid executes kernel.Callable once per logical (group, lane) pair
// across the grid described by cfg, per spec.md section 5: "The CPU
// emulator uses a worker pool with one logical thread per (group, lane)
// pair when necessary to faithfully model warp/group intrinsics." Each
// group gets its own GroupCoordinator; each warp within a group gets its
// own WarpCoordinator sized to the warp's actual lane count (the last
// warp of a group may be partial when group_dim.x is not a multiple of
// the device's warp size).
//
// A panic raised by the kernel body (an unmet contract the interpreter
// chose to detect rather than leave undefined, e.g. a failed assertion)
// is recovered and reported as the first error of the launch, matching
// spec.md section 7's "in-kernel assertion failed maps to a per-launch
// error flag consumed on synchronize()."
func runGrid(dev device.Device, kernel *backend.CompiledKernel, cfg KernelConfig, args []any) error {
	if kernel.Callable == nil {
		// Non-CPU backends emit target source for a real driver to load;
		// this runtime has no GPU driver to dispatch to, so a launch
		// against such a kernel is accepted (it already passed
		// Validate) but executes nothing. See DESIGN.md for the scope
		// boundary this documents.
		return nil
	}

	warpSize := dev.Capabilities.WarpSize
	if warpSize <= 0 {
		warpSize = 1
	}
	groupSize := int32(dim3Product(cfg.GroupDim))
	numWarps := (groupSize + warpSize - 1) / warpSize

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for gz := int32(0); gz < cfg.GridDim.Z; gz++ {
		for gy := int32(0); gy < cfg.GridDim.Y; gy++ {
			for gx := int32(0); gx < cfg.GridDim.X; gx++ {
				groupIndex := idx.Index3D{X: gx, Y: gy, Z: gz}
				gc := device.NewGroupCoordinator(groupSize)
				warpCoords := make([]*device.WarpCoordinator, numWarps)
				for w := range warpCoords {
					lanes := warpSize
					if int32(w) == numWarps-1 && groupSize%warpSize != 0 {
						lanes = groupSize % warpSize
					}
					warpCoords[w] = device.NewWarpCoordinator(lanes)
				}

				for local := int32(0); local < groupSize; local++ {
					lx, ly, lz := linearToIndex3D(local, cfg.GroupDim)
					warpIdx := local / warpSize
					laneIdx := local % warpSize

					wg.Add(1)
					go func(lx, ly, lz, warpIdx, laneIdx int32) {
						defer wg.Done()
						defer func() {
							if r := recover(); r != nil {
								recordErr(fmt.Errorf("kernel panic: %v", r))
							}
						}()
						th := device.NewThread(
							device.Grid{Index: groupIndex, Dimension: cfg.GridDim},
							device.Group{Index: idx.Index3D{X: lx, Y: ly, Z: lz}, Dimension: cfg.GroupDim},
							device.Warp{Index: warpIdx, Dimension: numWarps, LaneIndex: laneIdx, WarpSize: warpCoords[warpIdx].Size()},
							gc, warpCoords[warpIdx], false,
						)
						kernel.Callable(th, args)
					}(lx, ly, lz, warpIdx, laneIdx)
				}
			}
		}
	}

	wg.Wait()
	return firstErr
}

// linearToIndex3D reconstructs a 3D local thread index from its linear
// position within a group of the given dimension, row-major (X fastest).
func linearToIndex3D(linear int32, dim idx.Index3D) (x, y, z int32) {
	planeSize := dim.X * dim.Y
	if planeSize <= 0 {
		planeSize = 1
	}
	z = linear / planeSize
	rem := linear % planeSize
	rowSize := dim.X
	if rowSize <= 0 {
		rowSize = 1
	}
	y = rem / rowSize
	x = rem % rowSize
	return
}
