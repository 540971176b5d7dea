// Package cpu is the reference backend: an interpreter over the Kernel IR
// that doubles as the always-present, debuggable target every other
// backend's output is checked against (spec.md section 6 "CPU emulator:
// in-memory callable closure"). It never emits target source; Compile
// just closes over the module and hands back a Callable that runs one
// logical thread per invocation.
package cpu

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/buffer"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/idx"
	"github.com/accelcore/kernelrt/internal/narrowfloat"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/kernelerr"
	"github.com/accelcore/kernelrt/view"
)

// Backend interprets Kernel IR directly; there is no lowering step.
type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) Class() device.DeviceClass { return device.ClassCPU }

// atomicGuard serializes every atomic.* intrinsic across the whole
// process. The CPU backend is a correctness oracle, not a performance
// target, so one global mutex is the simplest thing that gives atomics
// their required read-modify-write semantics across goroutines sharing a
// buffer.
var atomicGuard sync.Mutex

// Compile validates nothing beyond what ir.Verify already checked before
// the Kernel Handle left its Declared state (rtcontext calls Verify
// itself when opts.EnableVerifier is set); Compile here just binds the
// module into a Callable.
func (b *Backend) Compile(mod *ir.Module, opts backend.CompileOptions) (*backend.CompiledKernel, error) {
	slots := make([]backend.ArgSlot, 0, len(mod.Fn.Params))
	for _, p := range mod.Fn.Params {
		pv := mod.Value(p)
		kind := backend.ArgScalar
		if pv.Type.Kind == ir.KindPtr {
			kind = backend.ArgView
		}
		slots = append(slots, backend.ArgSlot{Name: pv.Name, Kind: kind, Type: pv.Type})
	}

	interp := &interpreter{mod: mod, opts: opts}

	return &backend.CompiledKernel{
		Class:                device.ClassCPU,
		EntrySymbol:          mod.Fn.Name,
		StaticSharedMemBytes: backend.StaticSharedMemoryBytes(mod),
		ArgLayout:            slots,
		Callable:             interp.run,
	}, nil
}

// rtView is the interpreter's runtime representation of an ir.KindPtr
// value: a raw byte view (view.View[byte]) plus the element kind the view
// was most recently cast/created as, since the IR's view operations are
// typed but the interpreter's storage is always bytes.
type rtView struct {
	bytes    view.View[byte]
	elemKind ir.Kind
}

func (r rtView) elemSize() int64 { return int64(r.elemKind.ByteSize()) }
func (r rtView) len() int64      { return r.bytes.Len() / r.elemSize() }

// ViewArg packs a raw byte view and its element kind into the argument
// representation run() expects for an ArgView slot. The stream package
// calls this to marshal a launch's view arguments without reaching into
// the interpreter's unexported runtime representation.
func ViewArg(bytes view.View[byte], elemKind ir.Kind) any {
	return rtView{bytes: bytes, elemKind: elemKind}
}

type interpreter struct {
	mod  *ir.Module
	opts backend.CompileOptions
}

// run executes the kernel body for one logical thread. args must match
// the Callable's ArgLayout order: a Go numeric value per ArgScalar slot
// and an rtView per ArgView slot (the stream package is responsible for
// that marshalling when it packs a launch's arguments).
func (in *interpreter) run(t *device.Thread, args []any) {
	env := make([]any, in.mod.NumValues())
	for i, p := range in.mod.Fn.Params {
		env[p] = args[i]
	}

	blk := in.mod.EntryBlock()
	for blk != nil {
		next := in.execBlock(t, env, blk)
		if next == ir.InvalidBlock {
			return
		}
		blk = in.mod.Block(next)
	}
}

// execBlock runs every instruction of blk in order and returns the
// successor block chosen by its terminator, or ir.InvalidBlock on return.
func (in *interpreter) execBlock(t *device.Thread, env []any, blk *ir.Block) ir.BlockID {
	for _, id := range blk.Insts {
		v := in.mod.Value(id)
		if v.Op.IsTerminator() {
			return in.execTerminator(env, v)
		}
		env[id] = in.execInst(t, env, v)
	}
	return ir.InvalidBlock
}

func (in *interpreter) execTerminator(env []any, v *ir.Value) ir.BlockID {
	switch v.Op {
	case ir.OpJump:
		return v.Targets[0]
	case ir.OpBranch:
		if asBool(env[v.Operands[0]]) {
			return v.Targets[0]
		}
		return v.Targets[1]
	case ir.OpReturn:
		return ir.InvalidBlock
	}
	return ir.InvalidBlock
}

func operand(env []any, v *ir.Value, i int) any { return env[v.Operands[i]] }

func (in *interpreter) execInst(t *device.Thread, env []any, v *ir.Value) any {
	switch v.Op {
	case ir.OpConstInt:
		return v.ImmInt
	case ir.OpConstFloat:
		return v.ImmFloat

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		return in.narrowResult(v, evalBinOp(v, operand(env, v, 0), operand(env, v, 1)))
	case ir.OpNeg:
		if v.Type.IsFloat() {
			return -asFloat(operand(env, v, 0))
		}
		return -asInt(operand(env, v, 0))
	case ir.OpNot:
		return ^asInt(operand(env, v, 0))

	case ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe:
		return evalCmp(v, operand(env, v, 0), operand(env, v, 1))

	case ir.OpConvert:
		return in.evalConvert(v, operand(env, v, 0))

	case ir.OpViewLoad:
		return in.evalViewLoad(v, operand(env, v, 0), operand(env, v, 1))
	case ir.OpViewStore:
		in.evalViewStore(operand(env, v, 0), operand(env, v, 1), operand(env, v, 2))
		return nil
	case ir.OpViewSubview:
		return in.evalSubview(operand(env, v, 0), operand(env, v, 1), operand(env, v, 2))
	case ir.OpViewCast:
		return in.evalCast(v, operand(env, v, 0))
	case ir.OpViewAlignTo:
		return in.evalAlignTo(operand(env, v, 0), operand(env, v, 1))
	case ir.OpViewLen:
		return operand(env, v, 0).(rtView).len()
	case ir.OpViewStride:
		return int64(0) // only Dense is modelled; see view.Dense

	case ir.OpIndexLinearize:
		return idx.Linearize(operand(env, v, 0).(idx.Index3D), operand(env, v, 1).(idx.Index3D))
	case ir.OpIndexReconstruct:
		return idx.Reconstruct(asInt(operand(env, v, 0)), operand(env, v, 1).(idx.Index3D))

	case ir.OpGridIndex:
		return component3D(t.Grid.Index, v.ImmInt)
	case ir.OpGridDimension:
		return component3D(t.Grid.Dimension, v.ImmInt)
	case ir.OpGroupIndex:
		return component3D(t.Group.Index, v.ImmInt)
	case ir.OpGroupDimension:
		return component3D(t.Group.Dimension, v.ImmInt)
	case ir.OpGridGlobalIndex:
		return component3D(t.Grid.GlobalIndex(t.Group), v.ImmInt)
	case ir.OpWarpIndex:
		return int64(t.Warp.Index)
	case ir.OpWarpDimension:
		return int64(t.Warp.Dimension)
	case ir.OpWarpLaneIndex:
		return int64(t.LaneIndex())
	case ir.OpWarpIsFirstLane:
		return t.Warp.IsFirstLane()

	case ir.OpGroupBarrier:
		device.GroupBarrier(t)
		return nil
	case ir.OpBarrierPopCount:
		return int64(device.BarrierPopCount(t, asBool(operand(env, v, 0))))
	case ir.OpBarrierAnd:
		return device.BarrierAnd(t, asBool(operand(env, v, 0)))
	case ir.OpBarrierOr:
		return device.BarrierOr(t, asBool(operand(env, v, 0)))
	case ir.OpWarpBarrier:
		device.WarpBarrier(t)
		return nil

	case ir.OpShuffle:
		return device.Shuffle(t, operand(env, v, 0), int32(asInt(operand(env, v, 1))))
	case ir.OpShuffleDown:
		return device.ShuffleDown(t, operand(env, v, 0), int32(asInt(operand(env, v, 1))))
	case ir.OpShuffleUp:
		return device.ShuffleUp(t, operand(env, v, 0), int32(asInt(operand(env, v, 1))))
	case ir.OpShuffleXor:
		return device.ShuffleXor(t, operand(env, v, 0), int32(asInt(operand(env, v, 1))))
	case ir.OpBroadcast:
		return device.Broadcast(t, operand(env, v, 0), int32(asInt(operand(env, v, 1))))

	case ir.OpWarpReduce, ir.OpWarpAllReduce, ir.OpWarpInclusiveScan, ir.OpWarpExclusiveScan,
		ir.OpGroupAllReduce, ir.OpGroupInclusiveScan, ir.OpGroupExclusiveScan:
		return in.evalCollective(t, v, operand(env, v, 0))

	case ir.OpLocalAlloc:
		n := asInt(operand(env, v, 0))
		elemSize := int64(1)
		if v.Type.Elem != nil {
			elemSize = int64(v.Type.Elem.Size())
		}
		raw := t.AllocateLocal(n * elemSize)
		elemKind := ir.KindInt8
		if v.Type.Elem != nil {
			elemKind = v.Type.Elem.Kind
		}
		return rtView{bytes: wrapBytes(raw), elemKind: elemKind}

	case ir.OpAtomicAdd, ir.OpAtomicExchange, ir.OpAtomicMin, ir.OpAtomicMax,
		ir.OpAtomicAnd, ir.OpAtomicOr, ir.OpAtomicXor:
		return in.evalAtomicRMW(v, operand(env, v, 0), operand(env, v, 1), operand(env, v, 2))
	case ir.OpAtomicCompareExchange:
		return in.evalAtomicCAS(operand(env, v, 0), operand(env, v, 1), operand(env, v, 2), operand(env, v, 3))

	default:
		if v.Op >= ir.OpMathAbs && v.Op <= ir.OpMathTrailingZeros {
			return in.narrowResult(v, in.evalMath(v, env))
		}
	}
	panic(&kernelerr.CompilationFailedError{Stage: "cpu-interpret", Detail: "unhandled opcode " + v.Op.String()})
}

// component3D picks the X(0)/Y(1)/Z(2) component of a 3D index, the
// selector OpGridIndex/OpGridDimension/OpGroupIndex/OpGroupDimension carry
// in their ImmInt field (set by the builder per axis).
func component3D(idx idx.Index3D, component int64) int64 {
	switch component {
	case 0:
		return int64(idx.X)
	case 1:
		return int64(idx.Y)
	default:
		return int64(idx.Z)
	}
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return int64(x)
	}
	return 0
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return 0
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	}
	return false
}

// evalBinOp dispatches an arithmetic/bitwise binary opcode on operands
// already resolved to Go values, choosing integer or float arithmetic
// from the instruction's own result type (comparisons go through evalCmp
// instead, since their result type is always i1 regardless of operand
// type).
func evalBinOp(v *ir.Value, a, b any) any {
	if v.Type.IsFloat() {
		x, y := asFloat(a), asFloat(b)
		switch v.Op {
		case ir.OpAdd:
			return x + y
		case ir.OpSub:
			return x - y
		case ir.OpMul:
			return x * y
		case ir.OpDiv:
			return x / y
		case ir.OpRem:
			return math.Mod(x, y)
		}
	}
	x, y := asInt(a), asInt(b)
	switch v.Op {
	case ir.OpAdd:
		return x + y
	case ir.OpSub:
		return x - y
	case ir.OpMul:
		return x * y
	case ir.OpDiv:
		return x / y
	case ir.OpRem:
		return x % y
	case ir.OpAnd:
		return x & y
	case ir.OpOr:
		return x | y
	case ir.OpXor:
		return x ^ y
	case ir.OpShl:
		return x << uint(y)
	case ir.OpShr:
		return x >> uint(y)
	}
	return int64(0)
}

// evalCmp dispatches a comparison opcode, branching on the OPERAND type
// (compared as floats when either operand is a float64) rather than the
// instruction's own result type, which is always i1.
func evalCmp(v *ir.Value, a, b any) bool {
	_, aIsFloat := a.(float64)
	_, bIsFloat := b.(float64)
	if aIsFloat || bIsFloat {
		x, y := asFloat(a), asFloat(b)
		switch v.Op {
		case ir.OpCmpEq:
			return x == y
		case ir.OpCmpNe:
			return x != y
		case ir.OpCmpLt:
			return x < y
		case ir.OpCmpLe:
			return x <= y
		case ir.OpCmpGt:
			return x > y
		case ir.OpCmpGe:
			return x >= y
		}
	}
	x, y := asInt(a), asInt(b)
	switch v.Op {
	case ir.OpCmpEq:
		return x == y
	case ir.OpCmpNe:
		return x != y
	case ir.OpCmpLt:
		return x < y
	case ir.OpCmpLe:
		return x <= y
	case ir.OpCmpGt:
		return x > y
	case ir.OpCmpGe:
		return x >= y
	}
	return false
}

// evalConvert implements OpConvert for every (source, destination) kind
// pair the interpreter's value representation can hold: int<->int
// (truncate/sign-extend), float<->float (including the narrow formats via
// internal/narrowfloat), and int<->float.
func (in *interpreter) evalConvert(v *ir.Value, src any) any {
	dst := v.Type.Kind
	if dst.IsInteger() {
		var i int64
		if f, ok := src.(float64); ok {
			i = int64(f)
		} else {
			i = asInt(src)
		}
		return truncateInt(i, dst)
	}
	return narrowToKind(asFloat(src), dst)
}

// truncateInt reinterprets i's low ByteSize(dst)*8 bits as a signed value
// of that width (dst.ByteSize()==8 returns i unchanged), matching the
// narrowing-conversion semantics of the source language's fixed-width
// integer casts.
func truncateInt(i int64, dst ir.Kind) int64 {
	switch dst {
	case ir.KindInt1:
		if i&1 != 0 {
			return 1
		}
		return 0
	case ir.KindInt8:
		return int64(int8(i))
	case ir.KindInt16:
		return int64(int16(i))
	case ir.KindInt32:
		return int64(int32(i))
	default:
		return i
	}
}

// narrowToKind rounds f to the given float kind's precision, so a value
// that round-trips through a BF16/FP8/Float16 view reads back exactly
// what that format can represent rather than the original float64.
func narrowToKind(f float64, dst ir.Kind) float64 {
	switch dst {
	case ir.KindFloat32:
		return float64(float32(f))
	case ir.KindBF16:
		return float64(narrowfloat.BF16ToFloat32(narrowfloat.Float32ToBF16(float32(f))))
	case ir.KindFP8E4M3:
		return float64(narrowfloat.FP8E4M3ToFloat32(narrowfloat.Float32ToFP8E4M3(float32(f))))
	case ir.KindFloat16:
		return float64(narrowfloat.Float16ToFloat32(narrowfloat.Float32ToFloat16(float32(f))))
	default:
		return f
	}
}

// wrapBytes wraps an already-allocated byte slice (group-local scratch,
// typically) as a view.Backend that is always alive and owns nothing to
// release, so OpLocalAlloc results can be treated exactly like any other
// view at the interpreter level.
func wrapBytes(b []byte) view.View[byte] {
	buf := buffer.New("cpu-local", b, 1, nil)
	return view.New[byte](buf)
}

func decodeElem(b []byte, k ir.Kind) any {
	switch k {
	case ir.KindInt1:
		return b[0]&1 != 0
	case ir.KindInt8:
		return int64(int8(b[0]))
	case ir.KindInt16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case ir.KindInt32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case ir.KindInt64:
		return int64(binary.LittleEndian.Uint64(b))
	case ir.KindFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case ir.KindFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case ir.KindBF16:
		return float64(narrowfloat.BF16ToFloat32(binary.LittleEndian.Uint16(b)))
	case ir.KindFloat16:
		return float64(narrowfloat.Float16ToFloat32(binary.LittleEndian.Uint16(b)))
	case ir.KindFP8E4M3:
		return float64(narrowfloat.FP8E4M3ToFloat32(b[0]))
	default:
		return int64(0)
	}
}

func encodeElem(b []byte, k ir.Kind, val any) {
	switch k {
	case ir.KindInt1:
		if asBool(val) {
			b[0] = 1
		} else {
			b[0] = 0
		}
	case ir.KindInt8:
		b[0] = byte(int8(asInt(val)))
	case ir.KindInt16:
		binary.LittleEndian.PutUint16(b, uint16(int16(asInt(val))))
	case ir.KindInt32:
		binary.LittleEndian.PutUint32(b, uint32(int32(asInt(val))))
	case ir.KindInt64:
		binary.LittleEndian.PutUint64(b, uint64(asInt(val)))
	case ir.KindFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(asFloat(val))))
	case ir.KindFloat64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(asFloat(val)))
	case ir.KindBF16:
		binary.LittleEndian.PutUint16(b, narrowfloat.Float32ToBF16(float32(asFloat(val))))
	case ir.KindFloat16:
		binary.LittleEndian.PutUint16(b, narrowfloat.Float32ToFloat16(float32(asFloat(val))))
	case ir.KindFP8E4M3:
		b[0] = narrowfloat.Float32ToFP8E4M3(float32(asFloat(val)))
	}
}

func (in *interpreter) evalViewLoad(v *ir.Value, viewVal, idxVal any) any {
	rv := viewVal.(rtView)
	i := asInt(idxVal)
	b, err := rv.bytes.RawBytes(i*rv.elemSize(), rv.elemSize())
	if err != nil {
		panic(err)
	}
	return decodeElem(b, v.Type.Kind)
}

func (in *interpreter) evalViewStore(viewVal, idxVal, valueVal any) {
	rv := viewVal.(rtView)
	i := asInt(idxVal)
	b, err := rv.bytes.RawBytes(i*rv.elemSize(), rv.elemSize())
	if err != nil {
		panic(err)
	}
	encodeElem(b, rv.elemKind, valueVal)
}

func (in *interpreter) evalSubview(viewVal, startVal, countVal any) any {
	rv := viewVal.(rtView)
	start, count := asInt(startVal), asInt(countVal)
	sub, err := rv.bytes.Subview(start*rv.elemSize(), count*rv.elemSize())
	if err != nil {
		panic(err)
	}
	return rtView{bytes: sub, elemKind: rv.elemKind}
}

// evalCast reinterprets a view's element kind, checking that the target
// element size evenly divides the view's byte length, using runtime byte
// sizes instead of a compile-time Go type parameter. Unlike view.Cast, it
// does not check the base offset against the target element size.
func (in *interpreter) evalCast(v *ir.Value, viewVal any) any {
	rv := viewVal.(rtView)
	dstKind := v.Type.Elem.Kind
	dstSize := int64(dstKind.ByteSize())
	totalBytes := rv.bytes.Len()
	if totalBytes%dstSize != 0 {
		panic(&kernelerr.ViewCastAlignmentError{Op: "cast", Detail: "element size does not evenly divide view byte length"})
	}
	return rtView{bytes: rv.bytes, elemKind: dstKind}
}

func (in *interpreter) evalAlignTo(viewVal, alignVal any) any {
	rv := viewVal.(rtView)
	alignBytes := asInt(alignVal)
	prefix, main, err := view.AlignToBytes(rv.bytes, rv.elemSize(), alignBytes)
	if err != nil {
		panic(err)
	}
	return []any{
		rtView{bytes: prefix, elemKind: rv.elemKind},
		rtView{bytes: main, elemKind: rv.elemKind},
	}
}

func (in *interpreter) evalAtomicRMW(v *ir.Value, viewVal, idxVal, operandVal any) any {
	rv := viewVal.(rtView)
	i := asInt(idxVal)

	atomicGuard.Lock()
	defer atomicGuard.Unlock()

	b, err := rv.bytes.RawBytes(i*rv.elemSize(), rv.elemSize())
	if err != nil {
		panic(err)
	}
	old := decodeElem(b, rv.elemKind)
	var next any
	if rv.elemKind.IsFloat() {
		x, y := asFloat(old), asFloat(operandVal)
		switch v.Op {
		case ir.OpAtomicAdd:
			next = x + y
		case ir.OpAtomicExchange:
			next = y
		case ir.OpAtomicMin:
			next = math.Min(x, y)
		case ir.OpAtomicMax:
			next = math.Max(x, y)
		default:
			next = x
		}
	} else {
		x, y := asInt(old), asInt(operandVal)
		switch v.Op {
		case ir.OpAtomicAdd:
			next = x + y
		case ir.OpAtomicExchange:
			next = y
		case ir.OpAtomicMin:
			next = minInt(x, y)
		case ir.OpAtomicMax:
			next = maxInt(x, y)
		case ir.OpAtomicAnd:
			next = x & y
		case ir.OpAtomicOr:
			next = x | y
		case ir.OpAtomicXor:
			next = x ^ y
		default:
			next = x
		}
	}
	encodeElem(b, rv.elemKind, next)
	return old
}

func (in *interpreter) evalAtomicCAS(viewVal, idxVal, expectedVal, newVal any) any {
	rv := viewVal.(rtView)
	i := asInt(idxVal)

	atomicGuard.Lock()
	defer atomicGuard.Unlock()

	b, err := rv.bytes.RawBytes(i*rv.elemSize(), rv.elemSize())
	if err != nil {
		panic(err)
	}
	old := decodeElem(b, rv.elemKind)
	if old == expectedVal {
		encodeElem(b, rv.elemKind, newVal)
	}
	return old
}

// dynOp adapts a runtime-selected ir.CollectiveOp into device.Op[any], so
// the single device.WarpAllReduce/GroupInclusiveScan/etc. generic family
// can be driven from IR where the operator is only known at interpret
// time, not compile time.
type dynOp struct {
	kind    ir.CollectiveOp
	isFloat bool
}

func (o dynOp) Identity() any {
	if o.isFloat {
		switch o.kind {
		case ir.CollectiveMax:
			return math.Inf(-1)
		case ir.CollectiveMin:
			return math.Inf(1)
		default:
			return float64(0)
		}
	}
	switch o.kind {
	case ir.CollectiveMax:
		return int64(math.MinInt64)
	case ir.CollectiveMin:
		return int64(math.MaxInt64)
	case ir.CollectiveAnd:
		return ^int64(0)
	default:
		return int64(0)
	}
}

func (o dynOp) Apply(a, b any) any {
	if o.isFloat {
		x, y := asFloat(a), asFloat(b)
		switch o.kind {
		case ir.CollectiveMax:
			return math.Max(x, y)
		case ir.CollectiveMin:
			return math.Min(x, y)
		default:
			return x + y
		}
	}
	x, y := asInt(a), asInt(b)
	switch o.kind {
	case ir.CollectiveMax:
		return maxInt(x, y)
	case ir.CollectiveMin:
		return minInt(x, y)
	case ir.CollectiveAnd:
		return x & y
	case ir.CollectiveOr:
		return x | y
	case ir.CollectiveXor:
		return x ^ y
	default:
		return x + y
	}
}

// evalCollective drives a warp/group reduce or scan intrinsic. The IR's
// single-result-value-per-instruction shape means the scan variants'
// right-boundary aggregate (exposed by device.GroupInclusiveScan/
// GroupExclusiveScan as a second return) is not separately addressable
// here; callers that need it (the scan/reduce engine) call those device
// functions directly rather than through the IR.
func (in *interpreter) evalCollective(t *device.Thread, v *ir.Value, val any) any {
	op := dynOp{kind: ir.CollectiveOp(v.ImmInt), isFloat: v.Type.IsFloat()}
	switch v.Op {
	case ir.OpWarpReduce:
		return device.WarpReduce[any, dynOp](t, val, op)
	case ir.OpWarpAllReduce:
		return device.WarpAllReduce[any, dynOp](t, val, op)
	case ir.OpWarpInclusiveScan:
		return device.WarpInclusiveScan[any, dynOp](t, val, op)
	case ir.OpWarpExclusiveScan:
		return device.WarpExclusiveScan[any, dynOp](t, val, op)
	case ir.OpGroupAllReduce:
		return device.GroupAllReduce[any, dynOp](t, val, op)
	case ir.OpGroupInclusiveScan:
		res, _ := device.GroupInclusiveScan[any, dynOp](t, val, op)
		return res
	case ir.OpGroupExclusiveScan:
		res, _ := device.GroupExclusiveScan[any, dynOp](t, val, op)
		return res
	}
	return val
}

// narrowResult applies ContextProperties.force_32bit_floats to a Float64
// result: round-tripping through float32 so Float64 math ops/conversions
// observe Float32 precision, per spec.md section 6. Non-float64 results
// and results produced with the option unset pass through untouched.
func (in *interpreter) narrowResult(v *ir.Value, result any) any {
	if !in.opts.Force32BitFloats || v.Type.Kind != ir.KindFloat64 {
		return result
	}
	if f, ok := result.(float64); ok {
		return float64(float32(f))
	}
	return result
}

// fastInverseSqrt is the classic Quake III bit-hack approximation, the
// FastMath-relaxed alternative to 1/math.Sqrt: it trades a handful of ULP
// of accuracy for skipping the hardware sqrt/divide entirely.
func fastInverseSqrt(x float64) float64 {
	xf := float32(x)
	i := math.Float32bits(xf)
	i = 0x5f3759df - (i >> 1)
	y := math.Float32frombits(i)
	half := float32(0.5) * xf
	y = y * (1.5 - half*y*y) // one Newton-Raphson refinement step
	return float64(y)
}

func minInt(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// evalMath implements the section 4.E math intrinsic set. Every intrinsic
// takes its operands from env via the instruction's own Operands list;
// the result's floatness follows v.Type exactly as evalBinOp does.
func (in *interpreter) evalMath(v *ir.Value, env []any) any {
	arg := func(i int) any { return operand(env, v, i) }
	switch v.Op {
	case ir.OpMathAbs:
		if v.Type.IsFloat() {
			return math.Abs(asFloat(arg(0)))
		}
		x := asInt(arg(0))
		if x < 0 {
			return -x
		}
		return x
	case ir.OpMathMin:
		if v.Type.IsFloat() {
			return math.Min(asFloat(arg(0)), asFloat(arg(1)))
		}
		return minInt(asInt(arg(0)), asInt(arg(1)))
	case ir.OpMathMax:
		if v.Type.IsFloat() {
			return math.Max(asFloat(arg(0)), asFloat(arg(1)))
		}
		return maxInt(asInt(arg(0)), asInt(arg(1)))
	case ir.OpMathClamp:
		lo, hi := asFloat(arg(1)), asFloat(arg(2))
		if !v.Type.IsFloat() {
			x, l, h := asInt(arg(0)), asInt(arg(1)), asInt(arg(2))
			return minInt(maxInt(x, l), h)
		}
		return math.Min(math.Max(asFloat(arg(0)), lo), hi)
	case ir.OpMathSqrt:
		return math.Sqrt(asFloat(arg(0)))
	case ir.OpMathRsqrt:
		if in.opts.FastMath {
			return fastInverseSqrt(asFloat(arg(0)))
		}
		return 1 / math.Sqrt(asFloat(arg(0)))
	case ir.OpMathSin:
		return math.Sin(asFloat(arg(0)))
	case ir.OpMathCos:
		return math.Cos(asFloat(arg(0)))
	case ir.OpMathTan:
		return math.Tan(asFloat(arg(0)))
	case ir.OpMathAsin:
		return math.Asin(asFloat(arg(0)))
	case ir.OpMathAcos:
		return math.Acos(asFloat(arg(0)))
	case ir.OpMathAtan:
		return math.Atan(asFloat(arg(0)))
	case ir.OpMathAtan2:
		return math.Atan2(asFloat(arg(0)), asFloat(arg(1)))
	case ir.OpMathSinh:
		return math.Sinh(asFloat(arg(0)))
	case ir.OpMathCosh:
		return math.Cosh(asFloat(arg(0)))
	case ir.OpMathTanh:
		return math.Tanh(asFloat(arg(0)))
	case ir.OpMathExp:
		return math.Exp(asFloat(arg(0)))
	case ir.OpMathExp2:
		return math.Exp2(asFloat(arg(0)))
	case ir.OpMathExp10:
		return math.Pow(10, asFloat(arg(0)))
	case ir.OpMathLog:
		return math.Log(asFloat(arg(0)))
	case ir.OpMathLog2:
		return math.Log2(asFloat(arg(0)))
	case ir.OpMathLog10:
		return math.Log10(asFloat(arg(0)))
	case ir.OpMathPow:
		return math.Pow(asFloat(arg(0)), asFloat(arg(1)))
	case ir.OpMathFloor:
		return math.Floor(asFloat(arg(0)))
	case ir.OpMathCeiling:
		return math.Ceil(asFloat(arg(0)))
	case ir.OpMathTruncate:
		return math.Trunc(asFloat(arg(0)))
	case ir.OpMathRound:
		return math.RoundToEven(asFloat(arg(0)))
	case ir.OpMathIsNaN:
		return math.IsNaN(asFloat(arg(0)))
	case ir.OpMathIsInfinity:
		return math.IsInf(asFloat(arg(0)), 0)
	case ir.OpMathIsFinite:
		f := asFloat(arg(0))
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case ir.OpMathPopCount:
		return int64(popCount(uint64(asInt(arg(0)))))
	case ir.OpMathLeadingZeros:
		return int64(leadingZeros(uint64(asInt(arg(0))), v.Type.Kind))
	case ir.OpMathTrailingZeros:
		return int64(trailingZeros(uint64(asInt(arg(0))), v.Type.Kind))
	}
	return int64(0)
}

func popCount(x uint64) int {
	n := 0
	for x != 0 {
		n++
		x &= x - 1
	}
	return n
}

func leadingZeros(x uint64, k ir.Kind) int {
	width := k.ByteSize() * 8
	if width == 0 {
		width = 64
	}
	for i := width - 1; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			return width - 1 - i
		}
	}
	return width
}

func trailingZeros(x uint64, k ir.Kind) int {
	width := k.ByteSize() * 8
	if width == 0 {
		width = 64
	}
	for i := 0; i < width; i++ {
		if x&(1<<uint(i)) != 0 {
			return i
		}
	}
	return width
}
