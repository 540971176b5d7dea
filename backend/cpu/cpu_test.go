package cpu

import (
	"sync"
	"testing"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/buffer"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/idx"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/view"
)

// newThread builds a single-lane, single-thread group: enough rendezvous
// machinery to run a kernel body that uses barriers without ever blocking,
// since a group of size 1 releases its own barrier immediately.
func newThread() *device.Thread {
	gc := device.NewGroupCoordinator(1)
	wc := device.NewWarpCoordinator(1)
	grid := device.Grid{Dimension: idx.Index3D{X: 1, Y: 1, Z: 1}}
	group := device.Group{Dimension: idx.Index3D{X: 1, Y: 1, Z: 1}}
	warp := device.Warp{Dimension: 1, WarpSize: 1}
	return device.NewThread(grid, group, warp, gc, wc, false)
}

func compile(t *testing.T, mod *ir.Module) *backend.CompiledKernel {
	t.Helper()
	ck, err := New().Compile(mod, backend.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return ck
}

func viewArg(data []byte) rtView {
	buf := buffer.New("test", data, 1, nil)
	return rtView{bytes: view.New[byte](buf), elemKind: ir.KindInt32}
}

// TestAddStoresSum builds a kernel computing a+b into an i32 view and
// checks the interpreter resolves both params through OpAdd.
func TestAddStoresSum(t *testing.T) {
	mod := ir.NewModule("add_store")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	a := b.Param("a", ir.I64())
	c := b.Param("b", ir.I64())
	out := b.Param("out", ir.PtrTo(ir.I32()))
	sum := b.EmitBinOp(ir.OpAdd, ir.I32(), a, c)
	zero := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, zero, sum)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()

	outBuf := make([]byte, 4)
	ck.Callable(th, []any{int64(3), int64(4), viewArg(outBuf)})

	got := decodeElem(outBuf, ir.KindInt32).(int64)
	if got != 7 {
		t.Fatalf("stored sum = %d, want 7", got)
	}
}

// TestBranchSelectsBlock exercises OpBranch/OpJump: a kernel that writes
// 1 to out if a < b, else 0.
func TestBranchSelectsBlock(t *testing.T) {
	build := func() *ir.Module {
		mod := ir.NewModule("branch")
		b := ir.NewBuilder(mod)
		entry := b.NewBlock("entry")
		thenBlk := b.NewBlock("then")
		elseBlk := b.NewBlock("else")

		b.SetBlock(entry)
		a := b.Param("a", ir.I64())
		c := b.Param("b", ir.I64())
		out := b.Param("out", ir.PtrTo(ir.I32()))
		cond := b.EmitBinOp(ir.OpCmpLt, ir.I1(), a, c)
		b.EmitBranch(cond, thenBlk, elseBlk)
		b.Seal(entry)

		b.SetBlock(thenBlk)
		one := b.EmitConstInt(ir.I32(), 1)
		zeroIdx := b.EmitConstInt(ir.I64(), 0)
		b.EmitViewStore(out, zeroIdx, one)
		b.EmitReturn()
		b.Seal(thenBlk)

		b.SetBlock(elseBlk)
		zero := b.EmitConstInt(ir.I32(), 0)
		zeroIdx2 := b.EmitConstInt(ir.I64(), 0)
		b.EmitViewStore(out, zeroIdx2, zero)
		b.EmitReturn()
		b.Seal(elseBlk)

		return mod
	}

	cases := []struct {
		a, c int64
		want int64
	}{
		{1, 2, 1},
		{5, 2, 0},
	}
	for _, tc := range cases {
		ck := compile(t, build())
		th := newThread()
		out := make([]byte, 4)
		ck.Callable(th, []any{tc.a, tc.c, viewArg(out)})
		got := decodeElem(out, ir.KindInt32).(int64)
		if got != tc.want {
			t.Fatalf("a=%d b=%d: got %d want %d", tc.a, tc.c, got, tc.want)
		}
	}
}

// TestViewLoadStoreRoundTrip writes then reads back an int32 element.
func TestViewLoadStoreRoundTrip(t *testing.T) {
	mod := ir.NewModule("viewio")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.PtrTo(ir.I32()))
	idx0 := b.EmitConstInt(ir.I64(), 0)
	val := b.EmitConstInt(ir.I32(), 42)
	b.EmitViewStore(v, idx0, val)
	loaded := b.EmitViewLoad(ir.I32(), v, idx0)
	idx1 := b.EmitConstInt(ir.I64(), 1)
	b.EmitViewStore(v, idx1, loaded)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()
	data := make([]byte, 8)
	ck.Callable(th, []any{viewArg(data)})

	if got := decodeElem(data[4:8], ir.KindInt32).(int64); got != 42 {
		t.Fatalf("round-tripped value = %d, want 42", got)
	}
}

// TestSubviewNarrowsRange checks that a subview(1,2) of a 4-element view
// sees only elements [1,3).
func TestSubviewNarrowsRange(t *testing.T) {
	mod := ir.NewModule("subview")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.PtrTo(ir.I32()))
	out := b.Param("out", ir.PtrTo(ir.I32()))
	start := b.EmitConstInt(ir.I64(), 1)
	count := b.EmitConstInt(ir.I64(), 2)
	sub := b.EmitViewSubview(v, start, count)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	elem := b.EmitViewLoad(ir.I32(), sub, idx0)
	outIdx := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, outIdx, elem)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()

	data := make([]byte, 16)
	for i := int64(0); i < 4; i++ {
		encodeElem(data[i*4:i*4+4], ir.KindInt32, int64(10+i))
	}
	outBuf := make([]byte, 4)
	ck.Callable(th, []any{viewArg(data), viewArg(outBuf)})

	got := decodeElem(outBuf, ir.KindInt32).(int64)
	if got != 11 {
		t.Fatalf("subview(1,2)[0] = %d, want 11", got)
	}
}

// TestViewCastReinterpretsElementKind casts an 8-byte i64 view down to
// two i32 elements and checks the low element reads back the original
// value's low 32 bits (little-endian).
func TestViewCastReinterpretsElementKind(t *testing.T) {
	mod := ir.NewModule("cast")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.PtrTo(ir.I64()))
	out := b.Param("out", ir.PtrTo(ir.I32()))
	asI32 := b.EmitViewCast(ir.I32(), v)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	elem := b.EmitViewLoad(ir.I32(), asI32, idx0)
	b.EmitViewStore(out, idx0, elem)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()

	data := make([]byte, 8)
	encodeElem(data, ir.KindInt64, int64(0x1122334455667788))
	in := viewArg(data)
	in.elemKind = ir.KindInt64
	outBuf := make([]byte, 4)
	ck.Callable(th, []any{in, viewArg(outBuf)})

	got := decodeElem(outBuf, ir.KindInt32).(int64)
	want := int64(int32(0x55667788))
	if got != want {
		t.Fatalf("cast low i32 = %#x, want %#x", got, want)
	}
}

// TestConvertNarrowsFloat32 checks that convert-to-f32 rounds a float64
// to the nearest representable float32.
func TestConvertNarrowsFloat32(t *testing.T) {
	mod := ir.NewModule("convert")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	in := b.Param("in", ir.F64())
	out := b.Param("out", ir.PtrTo(ir.F32()))
	narrowed := b.EmitConvert(ir.F32(), in)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, idx0, narrowed)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()
	data := make([]byte, 4)
	ck.Callable(th, []any{float64(1) / 3, viewArg(data)})

	got := decodeElem(data, ir.KindFloat32).(float64)
	want := float64(float32(float64(1) / 3))
	if got != want {
		t.Fatalf("narrowed = %v, want %v", got, want)
	}
}

// TestMathSqrtAndClamp exercises the math-intrinsic family end to end.
func TestMathSqrtAndClamp(t *testing.T) {
	mod := ir.NewModule("math")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	in := b.Param("in", ir.F64())
	out := b.Param("out", ir.PtrTo(ir.F64()))
	sq := b.EmitIntrinsic(ir.OpMathSqrt, ir.F64(), in)
	lo := b.EmitConstFloat(ir.F64(), 0)
	hi := b.EmitConstFloat(ir.F64(), 3)
	clamped := b.EmitIntrinsic(ir.OpMathClamp, ir.F64(), sq, lo, hi)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, idx0, clamped)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()
	data := make([]byte, 8)
	ck.Callable(th, []any{float64(144), viewArg(data)})

	got := decodeElem(data, ir.KindFloat64).(float64)
	if got != 3 {
		t.Fatalf("sqrt(144) clamped to [0,3] = %v, want 3", got)
	}
}

// TestAtomicAddAccumulatesAcrossGoroutines drives ir.OpAtomicAdd from many
// goroutines sharing a single byte view, exercising atomicGuard.
func TestAtomicAddAccumulatesAcrossGoroutines(t *testing.T) {
	mod := ir.NewModule("atomic_add")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.PtrTo(ir.I64()))
	amount := b.Param("amount", ir.I64())
	idx0 := b.EmitConstInt(ir.I64(), 0)
	b.EmitAtomicRMW(ir.OpAtomicAdd, ir.I64(), v, idx0, amount)
	b.EmitReturn()

	ck := compile(t, mod)
	data := make([]byte, 8)
	shared := viewArg(data)
	shared.elemKind = ir.KindInt64

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ck.Callable(newThread(), []any{shared, int64(1)})
		}()
	}
	wg.Wait()

	got := decodeElem(data, ir.KindInt64).(int64)
	if got != n {
		t.Fatalf("accumulated = %d, want %d", got, n)
	}
}

// TestAtomicCompareExchangeOnlySwapsOnMatch checks the CAS semantics: the
// store only happens when the view's current value equals expected, and
// the original value is always returned.
func TestAtomicCompareExchangeOnlySwapsOnMatch(t *testing.T) {
	mod := ir.NewModule("cas")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.PtrTo(ir.I64()))
	expected := b.Param("expected", ir.I64())
	newVal := b.Param("newVal", ir.I64())
	out := b.Param("out", ir.PtrTo(ir.I64()))
	idx0 := b.EmitConstInt(ir.I64(), 0)
	old := b.EmitAtomicCompareExchange(ir.I64(), v, idx0, expected, newVal)
	b.EmitViewStore(out, idx0, old)
	b.EmitReturn()

	ck := compile(t, mod)
	th := newThread()

	data := make([]byte, 8)
	encodeElem(data, ir.KindInt64, int64(10))
	outBuf := make([]byte, 8)
	outV := viewArg(outBuf)
	outV.elemKind = ir.KindInt64
	inV := viewArg(data)
	inV.elemKind = ir.KindInt64

	// expected mismatches: no swap.
	ck.Callable(th, []any{inV, int64(999), int64(42), outV})
	if got := decodeElem(data, ir.KindInt64).(int64); got != 10 {
		t.Fatalf("mismatched CAS swapped anyway: got %d, want 10", got)
	}

	// expected matches: swap happens, old value returned.
	ck.Callable(th, []any{inV, int64(10), int64(42), outV})
	if got := decodeElem(data, ir.KindInt64).(int64); got != 42 {
		t.Fatalf("matched CAS did not swap: got %d, want 42", got)
	}
	if got := decodeElem(outBuf, ir.KindInt64).(int64); got != 10 {
		t.Fatalf("CAS returned %d, want old value 10", got)
	}
}

// TestWarpAllReduceSumViaCollective drives OpWarpAllReduce with
// CollectiveAdd across a real 32-lane warp rendezvous.
func TestWarpAllReduceSumViaCollective(t *testing.T) {
	const warpSize = 32
	mod := ir.NewModule("warp_all_reduce")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.I64())
	out := b.Param("out", ir.PtrTo(ir.I64()))
	reduced := b.EmitCollective(ir.OpWarpAllReduce, ir.I64(), ir.CollectiveAdd, v)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, idx0, reduced)
	b.EmitReturn()

	ck := compile(t, mod)

	gc := device.NewGroupCoordinator(warpSize)
	wc := device.NewWarpCoordinator(warpSize)

	var wg sync.WaitGroup
	results := make([]int64, warpSize)
	wg.Add(warpSize)
	for lane := 0; lane < warpSize; lane++ {
		lane := lane
		go func() {
			defer wg.Done()
			warp := device.Warp{Dimension: 1, LaneIndex: int32(lane), WarpSize: warpSize}
			group := device.Group{Dimension: idx.Index3D{X: 1, Y: 1, Z: 1}}
			th := device.NewThread(device.Grid{}, group, warp, gc, wc, false)
			data := make([]byte, 8)
			outV := viewArg(data)
			outV.elemKind = ir.KindInt64
			ck.Callable(th, []any{int64(lane + 1), outV})
			results[lane] = decodeElem(data, ir.KindInt64).(int64)
		}()
	}
	wg.Wait()

	const want = int64(32 * 33 / 2) // sum(1..32)
	for lane, r := range results {
		if r != want {
			t.Fatalf("lane %d: all-reduce = %d, want %d", lane, r, want)
		}
	}
}

// TestGroupInclusiveScanViaCollective drives OpGroupInclusiveScan with
// CollectiveAdd across a 6-thread group.
func TestGroupInclusiveScanViaCollective(t *testing.T) {
	const n = 6
	mod := ir.NewModule("group_scan")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	v := b.Param("v", ir.I64())
	out := b.Param("out", ir.PtrTo(ir.I64()))
	scanned := b.EmitCollective(ir.OpGroupInclusiveScan, ir.I64(), ir.CollectiveAdd, v)
	idx0 := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, idx0, scanned)
	b.EmitReturn()

	ck := compile(t, mod)
	gc := device.NewGroupCoordinator(n)

	var wg sync.WaitGroup
	results := make([]int64, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			wc := device.NewWarpCoordinator(1)
			group := device.Group{Index: idx.Index3D{X: int32(i)}, Dimension: idx.Index3D{X: n, Y: 1, Z: 1}}
			warp := device.Warp{Dimension: 1, WarpSize: 1}
			th := device.NewThread(device.Grid{}, group, warp, gc, wc, false)
			data := make([]byte, 8)
			outV := viewArg(data)
			outV.elemKind = ir.KindInt64
			ck.Callable(th, []any{int64(i + 1), outV})
			results[i] = decodeElem(data, ir.KindInt64).(int64)
		}()
	}
	wg.Wait()

	want := []int64{1, 3, 6, 10, 15, 21}
	for i := 0; i < n; i++ {
		if results[i] != want[i] {
			t.Fatalf("lane %d: inclusive scan = %d, want %d", i, results[i], want[i])
		}
	}
}

// TestLocalAllocSharesScratchAcrossGroup checks that two threads writing
// through OpLocalAlloc's result observe each other's writes: the group's
// Nth local allocation call shares one backing slice.
func TestLocalAllocSharesScratchAcrossGroup(t *testing.T) {
	const n = 4
	mod := ir.NewModule("local_alloc")
	b := ir.NewBuilder(mod)
	b.NewBlock("entry")
	lane := b.Param("lane", ir.I64())
	val := b.Param("val", ir.I32())
	out := b.Param("out", ir.PtrTo(ir.I32()))
	count := b.EmitConstInt(ir.I64(), n)
	scratch := b.EmitLocalAlloc(ir.I32(), count)
	b.EmitViewStore(scratch, lane, val)
	b.EmitIntrinsic(ir.OpGroupBarrier, ir.Type{})
	sumIdx := b.EmitConstInt(ir.I64(), 0)
	acc := b.EmitViewLoad(ir.I32(), scratch, sumIdx)
	for i := int64(1); i < n; i++ {
		iv := b.EmitConstInt(ir.I64(), i)
		elem := b.EmitViewLoad(ir.I32(), scratch, iv)
		acc = b.EmitBinOp(ir.OpAdd, ir.I32(), acc, elem)
	}
	zero := b.EmitConstInt(ir.I64(), 0)
	b.EmitViewStore(out, zero, acc)
	b.EmitReturn()

	ck := compile(t, mod)
	gc := device.NewGroupCoordinator(n)

	var wg sync.WaitGroup
	results := make([]int64, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			wc := device.NewWarpCoordinator(1)
			group := device.Group{Index: idx.Index3D{X: int32(i)}, Dimension: idx.Index3D{X: n, Y: 1, Z: 1}}
			warp := device.Warp{Dimension: 1, WarpSize: 1}
			th := device.NewThread(device.Grid{}, group, warp, gc, wc, false)
			outData := make([]byte, 4)
			ck.Callable(th, []any{int64(i), int64(i + 1), viewArg(outData)})
			results[i] = decodeElem(outData, ir.KindInt32).(int64)
		}()
	}
	wg.Wait()

	const want = int64(1 + 2 + 3 + 4)
	for i, r := range results {
		if r != want {
			t.Fatalf("thread %d: summed scratch = %d, want %d", i, r, want)
		}
	}
}
