package device

import "sync"

// GroupCoordinator rendezvouses every thread of one group for barriers and
// owns the group's local-memory scratch allocations. It is a classic
// two-phase cyclic barrier built on sync.Cond: threads arriving at a
// barrier block until the last thread of the group arrives, at which
// point every thread is released together and the generation advances so
// late arrivals for the *next* barrier don't race the current release.
type GroupCoordinator struct {
	size int32

	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
	arrived    int32

	// predicate accumulation for BarrierPopCount/And/Or, reset each round.
	popCount  int32
	andResult bool
	orResult  bool

	// local memory: allocations are collective, so every thread must call
	// LocalMemory.Allocate the same number of times in the same order;
	// each thread's own call counter (Thread.localSeq) keys allocs, handing
	// every thread the same backing slice for the Nth allocation call.
	allocMu sync.Mutex
	allocs  map[int][]byte
	allocN  int

	// collectMu/collectSlots back the group-wide reduce/scan collectives in
	// reduce.go, which stage values then ride this coordinator's Barrier.
	collectMu    sync.Mutex
	collectSlots []any
}

// NewGroupCoordinator creates a coordinator for a group of `size` threads.
func NewGroupCoordinator(size int32) *GroupCoordinator {
	gc := &GroupCoordinator{size: size, andResult: true, allocs: make(map[int][]byte)}
	gc.cond = sync.NewCond(&gc.mu)
	return gc
}

// Barrier blocks until every thread in the group has called Barrier.
func (g *GroupCoordinator) Barrier() {
	g.BarrierPredicate(false)
}

// BarrierPredicate is the shared implementation backing Barrier,
// BarrierPopCount, BarrierAnd and BarrierOr: every thread contributes a
// predicate value (ignored by plain Barrier) and the aggregate is
// available to all threads once the barrier releases.
func (g *GroupCoordinator) BarrierPredicate(pred bool) (popCount int32, and bool, or bool) {
	g.mu.Lock()
	gen := g.generation
	if g.arrived == 0 {
		g.popCount = 0
		g.andResult = true
		g.orResult = false
	}
	if pred {
		g.popCount++
		g.orResult = true
	} else {
		g.andResult = false
	}
	g.arrived++
	if g.arrived == g.size {
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for gen == g.generation {
			g.cond.Wait()
		}
	}
	popCount, and, or = g.popCount, g.andResult, g.orResult
	g.mu.Unlock()
	return
}

// allocateLocal returns the group-wide scratch slice for the callNum-th
// LocalMemory.Allocate call (0-based), creating it on first arrival.
func (g *GroupCoordinator) allocateLocal(callNum int, bytes int64) []byte {
	g.allocMu.Lock()
	defer g.allocMu.Unlock()
	if buf, ok := g.allocs[callNum]; ok {
		return buf
	}
	buf := make([]byte, bytes)
	g.allocs[callNum] = buf
	return buf
}
