package device

import (
	"sync"
	"testing"

	"github.com/accelcore/kernelrt/idx"
)

func newGroupOfThreads(n int32, warpSize int32) []*Thread {
	gc := NewGroupCoordinator(n)
	threads := make([]*Thread, n)
	warps := make(map[int32]*WarpCoordinator)
	for i := int32(0); i < n; i++ {
		warpIndex := i / warpSize
		wc, ok := warps[warpIndex]
		if !ok {
			remaining := n - warpIndex*warpSize
			size := warpSize
			if remaining < size {
				size = remaining
			}
			wc = NewWarpCoordinator(size)
			warps[warpIndex] = wc
		}
		lane := i % warpSize
		group := Group{Index: idx.Index3D{X: i}, Dimension: idx.Index3D{X: n, Y: 1, Z: 1}}
		warp := Warp{Index: warpIndex, Dimension: (n + warpSize - 1) / warpSize, LaneIndex: lane, WarpSize: wc.size}
		threads[i] = NewThread(Grid{}, group, warp, gc, wc, false)
	}
	return threads
}

func TestBarrierReleasesAllGoroutines(t *testing.T) {
	const n = 16
	threads := newGroupOfThreads(n, 32)
	var wg sync.WaitGroup
	done := make([]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			GroupBarrier(threads[i])
			done[i] = true
			GroupBarrier(threads[i])
		}()
	}
	wg.Wait()
	for i, d := range done {
		if !d {
			t.Fatalf("thread %d never passed its barrier", i)
		}
	}
}

func TestBarrierPopCountAndAndOr(t *testing.T) {
	const n = 8
	threads := newGroupOfThreads(n, 32)
	var wg sync.WaitGroup
	pop := make([]int32, n)
	and := make([]bool, n)
	or := make([]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			pred := i%2 == 0
			p, a, o := threads[i].coord.BarrierPredicate(pred)
			pop[i], and[i], or[i] = p, a, o
		}()
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if pop[i] != 4 {
			t.Fatalf("thread %d: popCount = %d, want 4", i, pop[i])
		}
		if and[i] != false {
			t.Fatalf("thread %d: and = true, want false (not all even)", i)
		}
		if or[i] != true {
			t.Fatalf("thread %d: or = false, want true", i)
		}
	}
}

func TestWarpAllReduceSumOfLaneIndexPlusOne(t *testing.T) {
	const warpSize = 32
	threads := newGroupOfThreads(warpSize, warpSize)
	var wg sync.WaitGroup
	results := make([]int32, warpSize)
	wg.Add(warpSize)
	for i := 0; i < warpSize; i++ {
		i := i
		go func() {
			defer wg.Done()
			v := threads[i].Warp.LaneIndex + 1
			results[i] = WarpAllReduce[int32](threads[i], v, AddOp[int32]{})
		}()
	}
	wg.Wait()
	const want = int32(528) // sum(1..32)
	for i, r := range results {
		if r != want {
			t.Fatalf("lane %d: AllReduce = %d, want %d", i, r, want)
		}
	}
}

func TestShuffleDownIdentity(t *testing.T) {
	const warpSize = 32
	threads := newGroupOfThreads(warpSize, warpSize)
	var wg sync.WaitGroup
	results := make([]int32, warpSize)
	wg.Add(warpSize)
	for i := 0; i < warpSize; i++ {
		i := i
		go func() {
			defer wg.Done()
			v := threads[i].Warp.LaneIndex
			results[i] = ShuffleDown(threads[i], v, 0)
		}()
	}
	wg.Wait()
	for lane, r := range results {
		if r != int32(lane) {
			t.Fatalf("lane %d: ShuffleDown(v, 0) = %d, want %d (identity)", lane, r, lane)
		}
	}
}

func TestShuffleDownOutOfSegmentReturnsOwnValue(t *testing.T) {
	const warpSize = 8
	threads := newGroupOfThreads(warpSize, warpSize)
	var wg sync.WaitGroup
	results := make([]int32, warpSize)
	wg.Add(warpSize)
	for i := 0; i < warpSize; i++ {
		i := i
		go func() {
			defer wg.Done()
			v := threads[i].Warp.LaneIndex * 10
			results[i] = ShuffleDown(threads[i], v, 1)
		}()
	}
	wg.Wait()
	for lane := 0; lane < warpSize; lane++ {
		want := int32((lane + 1) * 10)
		if lane == warpSize-1 {
			want = int32(lane * 10)
		}
		if results[lane] != want {
			t.Fatalf("lane %d: ShuffleDown(v,1) = %d, want %d", lane, results[lane], want)
		}
	}
}

func TestShuffleXorButterflyExchange(t *testing.T) {
	const warpSize = 4
	threads := newGroupOfThreads(warpSize, warpSize)
	var wg sync.WaitGroup
	results := make([]int32, warpSize)
	wg.Add(warpSize)
	for i := 0; i < warpSize; i++ {
		i := i
		go func() {
			defer wg.Done()
			v := threads[i].Warp.LaneIndex
			results[i] = ShuffleXor(threads[i], v, 1)
		}()
	}
	wg.Wait()
	want := []int32{1, 0, 3, 2}
	for lane, r := range results {
		if r != want[lane] {
			t.Fatalf("lane %d: ShuffleXor(v,1) = %d, want %d", lane, r, want[lane])
		}
	}
}

func TestBroadcastFromLaneZero(t *testing.T) {
	const warpSize = 16
	threads := newGroupOfThreads(warpSize, warpSize)
	var wg sync.WaitGroup
	results := make([]int32, warpSize)
	wg.Add(warpSize)
	for i := 0; i < warpSize; i++ {
		i := i
		go func() {
			defer wg.Done()
			v := threads[i].Warp.LaneIndex + 100
			results[i] = Broadcast(threads[i], v, 0)
		}()
	}
	wg.Wait()
	for lane, r := range results {
		if r != 100 {
			t.Fatalf("lane %d: Broadcast from lane 0 = %d, want 100", lane, r)
		}
	}
}

func TestGroupInclusiveScanRightBoundary(t *testing.T) {
	const n = 6
	threads := newGroupOfThreads(n, 32)
	var wg sync.WaitGroup
	results := make([]int32, n)
	boundaries := make([]int32, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			r, b := GroupInclusiveScan[int32](threads[i], int32(i+1), AddOp[int32]{})
			results[i], boundaries[i] = r, b
		}()
	}
	wg.Wait()
	// inclusive prefix sums of 1..6: 1,3,6,10,15,21
	want := []int32{1, 3, 6, 10, 15, 21}
	for i := 0; i < n; i++ {
		if results[i] != want[i] {
			t.Fatalf("lane %d: inclusive scan = %d, want %d", i, results[i], want[i])
		}
		if boundaries[i] != 21 {
			t.Fatalf("lane %d: right boundary = %d, want 21", i, boundaries[i])
		}
	}
}

func TestGroupExclusiveScan(t *testing.T) {
	const n = 5
	threads := newGroupOfThreads(n, 32)
	var wg sync.WaitGroup
	results := make([]int32, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			r, _ := GroupExclusiveScan[int32](threads[i], int32(i+1), AddOp[int32]{})
			results[i] = r
		}()
	}
	wg.Wait()
	// exclusive prefix sums of 1..5: 0,1,3,6,10
	want := []int32{0, 1, 3, 6, 10}
	for i := 0; i < n; i++ {
		if results[i] != want[i] {
			t.Fatalf("lane %d: exclusive scan = %d, want %d", i, results[i], want[i])
		}
	}
}

func TestRequireWarpPanicsWithoutBoundWarp(t *testing.T) {
	th := NewThread(Grid{}, Group{}, Warp{}, NewGroupCoordinator(1), nil, false)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic invoking a warp collective with no bound warp")
		}
	}()
	_ = Shuffle(th, int32(1), 0)
}

func TestOpImplementationsIdentityAndApply(t *testing.T) {
	add := AddOp[int32]{}
	if add.Identity() != 0 {
		t.Fatalf("AddOp identity = %d, want 0", add.Identity())
	}
	if add.Apply(3, 4) != 7 {
		t.Fatalf("AddOp.Apply(3,4) = %d, want 7", add.Apply(3, 4))
	}

	max := MaxOp[int32]{Ident: -1 << 31}
	if max.Apply(5, 9) != 9 || max.Apply(9, 5) != 9 {
		t.Fatal("MaxOp.Apply not commutative-correct")
	}

	min := MinOp[int32]{Ident: 1<<31 - 1}
	if min.Apply(5, 9) != 5 {
		t.Fatalf("MinOp.Apply(5,9) = %d, want 5", min.Apply(5, 9))
	}

	and := AndOp[uint8]{Ident: 0xFF}
	if and.Apply(0b1100, 0b1010) != 0b1000 {
		t.Fatal("AndOp.Apply incorrect")
	}

	or := OrOp[uint8]{}
	if or.Apply(0b1100, 0b0010) != 0b1110 {
		t.Fatal("OrOp.Apply incorrect")
	}

	xor := XorOp[uint8]{}
	if xor.Apply(0b1100, 0b1010) != 0b0110 {
		t.Fatal("XorOp.Apply incorrect")
	}
}

func TestGridGlobalIndex(t *testing.T) {
	g := Grid{Index: idx.Index3D{X: 2, Y: 1, Z: 0}, Dimension: idx.Index3D{X: 4, Y: 4, Z: 1}}
	group := Group{Index: idx.Index3D{X: 1, Y: 2, Z: 0}, Dimension: idx.Index3D{X: 4, Y: 4, Z: 1}}
	got := g.GlobalIndex(group)
	want := idx.Index3D{X: 2*4 + 1, Y: 1*4 + 2, Z: 0}
	if got != want {
		t.Fatalf("GlobalIndex = %+v, want %+v", got, want)
	}
}
