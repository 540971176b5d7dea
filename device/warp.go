package device

import "sync"

// WarpCoordinator rendezvouses the lanes of one warp for shuffle-family
// intrinsics. Every lane stages a value, waits for all lanes to arrive,
// then reads whichever lane's staged value the particular intrinsic
// needs. All warp intrinsics are collective: every lane must call the
// same intrinsic in the same program order (spec.md section 5).
type WarpCoordinator struct {
	size int32

	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
	arrived    int32
	slots      []any
}

// NewWarpCoordinator creates a coordinator for a warp of `size` lanes.
func NewWarpCoordinator(size int32) *WarpCoordinator {
	wc := &WarpCoordinator{size: size, slots: make([]any, size)}
	wc.cond = sync.NewCond(&wc.mu)
	return wc
}

// Size reports the number of lanes this coordinator rendezvouses, for
// callers (the stream package's worker pool) that size a thread's
// Warp.WarpSize off of a possibly-partial trailing warp.
func (w *WarpCoordinator) Size() int32 { return w.size }

// warpCollective stages value at laneIndex, blocks until every lane of the
// warp has staged its value, and returns the full set of staged values in
// lane order.
func warpCollective[T any](w *WarpCoordinator, laneIndex int32, value T) []T {
	w.mu.Lock()
	w.slots[laneIndex] = value
	gen := w.generation
	w.arrived++
	if w.arrived == w.size {
		w.arrived = 0
		w.generation++
		w.cond.Broadcast()
	} else {
		for gen == w.generation {
			w.cond.Wait()
		}
	}
	out := make([]T, w.size)
	for i, s := range w.slots {
		out[i], _ = s.(T)
	}
	w.mu.Unlock()
	return out
}

// segmentBounds returns the [lo, hi) lane range of the width-sized segment
// containing lane, per the sub-shuffle width rule in spec.md section 4.C.
func segmentBounds(lane, width, warpSize int32) (int32, int32) {
	if width <= 0 || width > warpSize {
		width = warpSize
	}
	lo := (lane / width) * width
	hi := lo + width
	if hi > warpSize {
		hi = warpSize
	}
	return lo, hi
}

// Shuffle returns srcLane's value of v to every participating lane.
func Shuffle[T any](t *Thread, v T, srcLane int32) T {
	w := requireWarp(t)
	vals := warpCollective(w, t.Warp.LaneIndex, v)
	if srcLane < 0 || srcLane >= int32(len(vals)) {
		return v
	}
	return vals[srcLane]
}

// ShuffleWidth is Shuffle restricted to a power-of-two-lane segment.
func ShuffleWidth[T any](t *Thread, v T, srcLaneInSegment int32, width int32) T {
	w := requireWarp(t)
	vals := warpCollective(w, t.Warp.LaneIndex, v)
	lo, hi := segmentBounds(t.Warp.LaneIndex, width, t.Warp.WarpSize)
	target := lo + srcLaneInSegment
	if target < lo || target >= hi {
		return v
	}
	return vals[target]
}

// ShuffleDown returns the value held delta lanes higher within the calling
// lane's width-sized segment (default width = warp size); a target
// outside the segment leaves the lane's own value unchanged, never
// reading memory outside the warp.
func ShuffleDown[T any](t *Thread, v T, delta int32) T {
	return ShuffleDownWidth(t, v, delta, t.Warp.WarpSize)
}

func ShuffleDownWidth[T any](t *Thread, v T, delta int32, width int32) T {
	w := requireWarp(t)
	vals := warpCollective(w, t.Warp.LaneIndex, v)
	lo, hi := segmentBounds(t.Warp.LaneIndex, width, t.Warp.WarpSize)
	target := t.Warp.LaneIndex + delta
	if target < lo || target >= hi {
		return v
	}
	return vals[target]
}

// ShuffleUp is the mirror of ShuffleDown, reading delta lanes lower.
func ShuffleUp[T any](t *Thread, v T, delta int32) T {
	return ShuffleUpWidth(t, v, delta, t.Warp.WarpSize)
}

func ShuffleUpWidth[T any](t *Thread, v T, delta int32, width int32) T {
	w := requireWarp(t)
	vals := warpCollective(w, t.Warp.LaneIndex, v)
	lo, hi := segmentBounds(t.Warp.LaneIndex, width, t.Warp.WarpSize)
	target := t.Warp.LaneIndex - delta
	if target < lo || target >= hi {
		return v
	}
	return vals[target]
}

// ShuffleXor exchanges values with the lane at laneIndex XOR mask, within
// the calling lane's width-sized segment.
func ShuffleXor[T any](t *Thread, v T, mask int32) T {
	return ShuffleXorWidth(t, v, mask, t.Warp.WarpSize)
}

func ShuffleXorWidth[T any](t *Thread, v T, mask int32, width int32) T {
	w := requireWarp(t)
	vals := warpCollective(w, t.Warp.LaneIndex, v)
	lo, hi := segmentBounds(t.Warp.LaneIndex, width, t.Warp.WarpSize)
	target := (t.Warp.LaneIndex - lo) ^ mask
	target += lo
	if target < lo || target >= hi {
		return v
	}
	return vals[target]
}

// Broadcast returns srcLane's value to every lane. The caller must pass an
// identical srcLane from every participating lane; this is not checked
// beyond what Shuffle already guarantees (srcLane is not part of the
// staged collective value), so divergent callers get undefined per-lane
// results rather than a detected error, consistent with spec.md's framing
// of warp divergence as a contract violation.
func Broadcast[T any](t *Thread, v T, srcLane int32) T {
	return Shuffle(t, v, srcLane)
}
