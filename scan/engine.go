// Package scan implements the Scan/Reduce Engine (spec.md section 4.I):
// inclusive and exclusive scans over a 1D source view into a 1D target
// view under a user-supplied associative operator, using the tile model,
// single-pass (SequentialGroupExecutor) and multi-pass algorithms the
// spec describes. It is built directly on the Device Model's generic
// group collectives (device.GroupAllReduce, device.GroupInclusiveScan,
// device.GroupExclusiveScan) the same way device/device_test.go exercises
// them: one goroutine per logical (group, thread) pair, synchronized
// through a device.GroupCoordinator.
package scan

import (
	"sync"

	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/idx"
	"github.com/accelcore/kernelrt/kernelerr"
	"github.com/accelcore/kernelrt/view"
)

// Op is the associative operator contract scans and reduces fold over,
// re-exported from the Device Model so callers need only import this
// package.
type Op[T any] = device.Op[T]

// Options configures a scan/reduce call; the zero value asks the engine
// to size the launch itself from dev's capabilities.
type Options struct {
	// GroupSize overrides device.Capabilities.PreferredGroupSize.
	GroupSize int32
	// ForceMultiPass bypasses the single-pass path even when dev
	// advertises SupportsSinglePass, for exercising the fallback
	// algorithm on a device that would otherwise take the fast path.
	ForceMultiPass bool
}

func resolveGroupSize(dev device.Device, opts Options) int32 {
	if opts.GroupSize > 0 {
		return opts.GroupSize
	}
	if dev.Capabilities.PreferredGroupSize > 0 {
		return dev.Capabilities.PreferredGroupSize
	}
	return 1
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// planGrid derives (grid_dim.x, iterations_per_group) from a problem size,
// mirroring compute_grid_stride_kernel_config (spec.md section 4.H) with
// the device's tuned K factor.
func planGrid(dev device.Device, n int64, groupDimX int32) (int32, int64) {
	if n <= 0 {
		return 1, 1
	}
	k := int64(dev.Capabilities.GridStrideK)
	if k <= 0 {
		k = 1
	}
	gridDimX := ceilDiv(n, int64(groupDimX)*k)
	if gridDimX < 1 {
		gridDimX = 1
	}
	itersPerGroup := ceilDiv(n, gridDimX*int64(groupDimX))
	if itersPerGroup < 1 {
		itersPerGroup = 1
	}
	return int32(gridDimX), itersPerGroup
}

// BufferRequest describes one temporary buffer the engine needs, in the
// element-count/element-size shape spec.md section 4.I's pre-allocation
// protocol wants so callers can batch-allocate through an
// AllocationBuilder (in this module, stream.Stream.AllocateTemporary)
// once per pipeline instead of per launch.
type BufferRequest struct {
	ElemCount int64
	ElemSize  int64
}

// Plan returns the temporary buffer requests an InclusiveScan/
// ExclusiveScan call with these parameters would need: one element of T
// plus two i32 counters for the single-pass path, one T per group slot
// for the multi-pass fallback.
func Plan(dev device.Device, elemSize, length int64, opts Options) []BufferRequest {
	groupDimX := resolveGroupSize(dev, opts)
	if dev.Capabilities.SupportsSinglePass && !opts.ForceMultiPass {
		return []BufferRequest{
			{ElemCount: 1, ElemSize: elemSize},
			{ElemCount: 2, ElemSize: 4},
		}
	}
	gridDimX, _ := planGrid(dev, length, groupDimX)
	return []BufferRequest{{ElemCount: int64(gridDimX), ElemSize: elemSize}}
}

// InclusiveScan writes, to target[i], the fold of op over source[0..=i].
func InclusiveScan[T view.Elem, O Op[T]](dev device.Device, source, target view.View[T], op O, opts Options) error {
	return run[T, O](dev, source, target, op, opts, true)
}

// ExclusiveScan writes, to target[i], the fold of op over source[0..i).
func ExclusiveScan[T view.Elem, O Op[T]](dev device.Device, source, target view.View[T], op O, opts Options) error {
	return run[T, O](dev, source, target, op, opts, false)
}

// Reduce folds op over the whole of source and returns the aggregate,
// reusing the same per-tile accumulation as a multi-pass first pass.
func Reduce[T view.Elem, O Op[T]](dev device.Device, source view.View[T], op O, opts Options) T {
	n := source.Len()
	groupDimX := resolveGroupSize(dev, opts)
	gridDimX, itersPerGroup := planGrid(dev, n, groupDimX)
	tileSize := int64(groupDimX) * itersPerGroup

	groupTotals := computeGroupTotals[T, O](source, op, gridDimX, groupDimX, tileSize, n)

	acc := op.Identity()
	for _, v := range groupTotals {
		acc = op.Apply(acc, v)
	}
	return acc
}

func run[T view.Elem, O Op[T]](dev device.Device, source, target view.View[T], op O, opts Options, inclusive bool) error {
	n := source.Len()
	if target.Len() < n {
		return &kernelerr.ConfigInvalidError{Field: "target", Detail: "target.len must be >= source.len"}
	}

	groupDimX := resolveGroupSize(dev, opts)
	gridDimX, itersPerGroup := planGrid(dev, n, groupDimX)
	tileSize := int64(groupDimX) * itersPerGroup

	singlePass := dev.Capabilities.SupportsSinglePass && !opts.ForceMultiPass
	if !singlePass && gridDimX > groupDimX {
		return &kernelerr.ConfigInvalidError{
			Field:  "grid_dim",
			Detail: "multi-pass scan requires grid_dim <= group_dim",
		}
	}

	if singlePass {
		runSinglePass[T, O](source, target, op, gridDimX, groupDimX, tileSize, n, inclusive)
	} else {
		runMultiPass[T, O](source, target, op, gridDimX, groupDimX, tileSize, n, inclusive)
	}
	return nil
}

func newGroupThread(g, lt, gridDimX, groupDimX int32, gc *device.GroupCoordinator) *device.Thread {
	grid := device.Grid{Index: idx.Index3D{X: g}, Dimension: idx.Index3D{X: gridDimX, Y: 1, Z: 1}}
	group := device.Group{Index: idx.Index3D{X: lt}, Dimension: idx.Index3D{X: groupDimX, Y: 1, Z: 1}}
	return device.NewThread(grid, group, device.Warp{}, gc, nil, false)
}

// tileRightBoundary computes a tile's aggregate (spec.md section 4.I's
// "per-tile right boundary... accumulating AllReduce<Op> across the
// group, over each stride-group_dim.x sweep through the tile"). Every
// thread of the group must call this the same number of times, which
// holds here since the loop trip count depends only on g, not lt.
func tileRightBoundary[T view.Elem, O Op[T]](th *device.Thread, source view.View[T], op O, g, lt, groupDimX int32, tileSize, n int64) T {
	start := int64(g)*tileSize + int64(lt)
	end := int64(g+1) * tileSize
	acc := op.Identity()
	for i := start; i < end; i += int64(groupDimX) {
		val := op.Identity()
		if i < n {
			v, _ := source.Get(i)
			val = v
		}
		step := device.GroupAllReduce[T, O](th, val, op)
		acc = op.Apply(acc, step)
	}
	return acc
}

// tileBody streams a tile's elements (spec.md section 4.I's "per-tile
// body"): at each step the group scans its step's values, writes
// Op.Apply(left, current) at the in-range index, then advances left by
// the step's total. The same left-update rule serves both scan
// directions; see DESIGN.md for why this implementation does not carry
// the extra "next tile's first value" term the spec's prose mentions for
// the exclusive case.
func tileBody[T view.Elem, O Op[T]](th *device.Thread, source, target view.View[T], op O, g, lt, groupDimX int32, tileSize, n int64, left T, inclusive bool) {
	start := int64(g)*tileSize + int64(lt)
	end := int64(g+1) * tileSize
	for i := start; i < end; i += int64(groupDimX) {
		val := op.Identity()
		inRange := i < n
		if inRange {
			v, _ := source.Get(i)
			val = v
		}
		var result, stepTotal T
		if inclusive {
			result, stepTotal = device.GroupInclusiveScan[T, O](th, val, op)
		} else {
			result, stepTotal = device.GroupExclusiveScan[T, O](th, val, op)
		}
		if inRange {
			_ = target.Set(i, op.Apply(left, result))
		}
		left = op.Apply(left, stepTotal)
	}
}

// computeGroupTotals runs phase 1 (the right-boundary pre-pass) for every
// group concurrently and returns each tile's aggregate, indexed by group.
func computeGroupTotals[T view.Elem, O Op[T]](source view.View[T], op O, gridDimX, groupDimX int32, tileSize, n int64) []T {
	groupTotals := make([]T, gridDimX)
	var wg sync.WaitGroup
	for g := int32(0); g < gridDimX; g++ {
		gc := device.NewGroupCoordinator(groupDimX)
		for lt := int32(0); lt < groupDimX; lt++ {
			wg.Add(1)
			go func(g, lt int32) {
				defer wg.Done()
				th := newGroupThread(g, lt, gridDimX, groupDimX, gc)
				right := tileRightBoundary[T, O](th, source, op, g, lt, groupDimX, tileSize, n)
				if lt == 0 {
					groupTotals[g] = right
				}
			}(g, lt)
		}
	}
	wg.Wait()
	return groupTotals
}

// boundaryStation is the SequentialGroupExecutor's pair of device-global
// counters (spec.md section 4.I): group g+1 spins on boundaryStation.wait
// until group g has computed and published its own left boundary combined
// with its tile's right boundary.
type boundaryStation[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	published []bool
	values    []T
}

func newBoundaryStation[T any](numGroups int32, identity T) *boundaryStation[T] {
	bs := &boundaryStation[T]{
		published: make([]bool, numGroups+1),
		values:    make([]T, numGroups+1),
	}
	bs.cond = sync.NewCond(&bs.mu)
	bs.values[0] = identity
	bs.published[0] = true
	return bs
}

func (bs *boundaryStation[T]) wait(g int32) T {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for !bs.published[g] {
		bs.cond.Wait()
	}
	return bs.values[g]
}

func (bs *boundaryStation[T]) publish(g int32, v T) {
	bs.mu.Lock()
	bs.values[g] = v
	bs.published[g] = true
	bs.cond.Broadcast()
	bs.mu.Unlock()
}

// runSinglePass implements the SequentialGroupExecutor: each group computes
// its own tile's right boundary, spins for the previous group's published
// left boundary, publishes its own combined boundary for the next group
// (past a group barrier separating the read from the publish), then
// streams its tile body. Groups pipeline: group g+1's right-boundary
// sweep can proceed concurrently with group g's body-write phase.
func runSinglePass[T view.Elem, O Op[T]](source, target view.View[T], op O, gridDimX, groupDimX int32, tileSize, n int64, inclusive bool) {
	station := newBoundaryStation[T](gridDimX, op.Identity())

	var wg sync.WaitGroup
	for g := int32(0); g < gridDimX; g++ {
		gc := device.NewGroupCoordinator(groupDimX)
		for lt := int32(0); lt < groupDimX; lt++ {
			wg.Add(1)
			go func(g, lt int32) {
				defer wg.Done()
				th := newGroupThread(g, lt, gridDimX, groupDimX, gc)

				right := tileRightBoundary[T, O](th, source, op, g, lt, groupDimX, tileSize, n)
				left := station.wait(g)
				if lt == 0 {
					station.publish(g+1, op.Apply(left, right))
				}
				device.GroupBarrier(th)

				tileBody[T, O](th, source, target, op, g, lt, groupDimX, tileSize, n, left, inclusive)
			}(g, lt)
		}
	}
	wg.Wait()
}

// runMultiPass implements the two-launch fallback: pass 1 computes every
// group's right boundary into a temporary array; pass 2 derives each
// group's left boundary as the exclusive prefix sum of that array (a
// plain sequential fold over already-host-resident totals, not a further
// device collective — see DESIGN.md) and streams the tile body.
func runMultiPass[T view.Elem, O Op[T]](source, target view.View[T], op O, gridDimX, groupDimX int32, tileSize, n int64, inclusive bool) {
	groupTotals := computeGroupTotals[T, O](source, op, gridDimX, groupDimX, tileSize, n)

	var wg sync.WaitGroup
	for g := int32(0); g < gridDimX; g++ {
		left := op.Identity()
		for i := int32(0); i < g; i++ {
			left = op.Apply(left, groupTotals[i])
		}

		gc := device.NewGroupCoordinator(groupDimX)
		for lt := int32(0); lt < groupDimX; lt++ {
			wg.Add(1)
			go func(g, lt int32, left T) {
				defer wg.Done()
				th := newGroupThread(g, lt, gridDimX, groupDimX, gc)
				tileBody[T, O](th, source, target, op, g, lt, groupDimX, tileSize, n, left, inclusive)
			}(g, lt, left)
		}
	}
	wg.Wait()
}
