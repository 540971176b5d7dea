// Package device models the grid/group/warp/thread execution hierarchy and
// the intrinsics a kernel body may invoke against it: index queries,
// barriers, shuffles, broadcasts, warp/group reductions and scans, local
// memory, and atomics. The CPU backend (backend/cpu) is the concrete
// Executor that makes these collective operations actually rendezvous
// across goroutines; PTX/OpenCL backends translate the same intrinsic set
// to target-native instructions instead of calling into this package.
package device

import "github.com/accelcore/kernelrt/idx"

// Grid identifies a thread's position in the 3D grid of groups.
type Grid struct {
	Index     idx.Index3D
	Dimension idx.Index3D
}

// Group identifies a thread's position within its group.
type Group struct {
	Index     idx.Index3D
	Dimension idx.Index3D
}

// Warp identifies a thread's position within its warp (sub-group).
type Warp struct {
	Index     int32 // warp index within the group
	Dimension int32 // number of warps in the group
	LaneIndex int32
	WarpSize  int32
}

// IsFirstLane reports whether this thread is lane 0 of its warp.
func (w Warp) IsFirstLane() bool { return w.LaneIndex == 0 }

// GlobalIndex returns grid_index*group_dim + group_index, component-wise,
// per spec.md section 4.C.
func (g Grid) GlobalIndex(group Group) idx.Index3D {
	return idx.Index3D{
		X: g.Index.X*group.Dimension.X + group.Index.X,
		Y: g.Index.Y*group.Dimension.Y + group.Index.Y,
		Z: g.Index.Z*group.Dimension.Z + group.Index.Z,
	}
}

// Thread is the per-lane handle a kernel body receives. It carries
// position within the hierarchy plus the coordination primitives needed
// to make collective intrinsics observable across goroutines; Coordinator
// ties a single group's threads (and their warps) together and is
// supplied by the executing backend.
type Thread struct {
	Grid  Grid
	Group Group
	Warp  Warp

	coord     *GroupCoordinator
	warp      *WarpCoordinator
	asserts   bool // enable_assertions: detect divergent collective calls
	localSeq  int  // this thread's call count into AllocateLocal, for allocateLocal's callNum
}

// NewThread constructs a Thread bound to the given group coordinator and
// warp coordinator. Backends call this once per logical lane.
func NewThread(grid Grid, group Group, warp Warp, coord *GroupCoordinator, wc *WarpCoordinator, assertions bool) *Thread {
	return &Thread{Grid: grid, Group: group, Warp: warp, coord: coord, warp: wc, asserts: assertions}
}

// LaneIndex is a convenience accessor mirroring Warp.LaneIndex.
func (t *Thread) LaneIndex() int32 { return t.Warp.LaneIndex }

// AssertionsEnabled reports whether the executing context runs with
// enable_assertions set, per spec.md section 6.
func (t *Thread) AssertionsEnabled() bool { return t.asserts }

// AllocateLocal returns this group's scratch slice for the caller's Nth
// local-memory allocation call (0-based, per-thread call order). Every
// thread in the group must call this the same number of times in the
// same order, since the Nth call across the whole group shares one
// backing slice (spec.md section 4.C local memory semantics).
func (t *Thread) AllocateLocal(bytes int64) []byte {
	buf := t.coord.allocateLocal(t.localSeq, bytes)
	t.localSeq++
	return buf
}
