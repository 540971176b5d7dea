package ir

// Opcode is the tag of a Value's defining operation. Opcodes are grouped
// to mirror spec.md section 4.E: arithmetic/comparison, view ops
// (load/store/subview/cast/align-to/length-query/stride-query), index
// arithmetic, the device-model intrinsic set of section 4.C, math
// intrinsics, and control flow.
type Opcode int

const (
	OpInvalid Opcode = iota

	// --- constants and block parameters ---
	OpConstInt
	OpConstFloat
	OpParam // a block/function parameter; Operands empty, Imm unused

	// --- arithmetic ---
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNot

	// --- comparisons (result type is always Int1) ---
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe

	// --- conversions ---
	OpConvert // Operands[0] converted to the Value's own Type

	// --- view operations ---
	OpViewLoad    // Operands: [view, index] -> element
	OpViewStore   // Operands: [view, index, value] -> void (Type invalid)
	OpViewSubview // Operands: [view, start, count] -> view
	OpViewCast    // Operands: [view] -> view of a different element type
	OpViewAlignTo // Operands: [view, alignBytes] -> struct{prefix,main}
	OpViewLen     // Operands: [view] -> i64
	OpViewStride  // Operands: [view] -> stride descriptor (opaque ptr)

	// --- index arithmetic ---
	OpIndexLinearize   // Operands: [point, extent] -> i64
	OpIndexReconstruct // Operands: [linear, extent] -> point (struct)

	// --- grid/group/warp intrinsics (section 4.C) ---
	OpGridIndex
	OpGridDimension
	OpGridGlobalIndex
	OpGroupIndex
	OpGroupDimension
	OpWarpIndex
	OpWarpDimension
	OpWarpLaneIndex
	OpWarpIsFirstLane
	OpGroupBarrier
	OpBarrierPopCount
	OpBarrierAnd
	OpBarrierOr
	OpWarpBarrier
	OpShuffle
	OpShuffleDown
	OpShuffleUp
	OpShuffleXor
	OpBroadcast
	OpWarpReduce
	OpWarpAllReduce
	OpWarpInclusiveScan
	OpWarpExclusiveScan
	OpGroupInclusiveScan
	OpGroupExclusiveScan
	OpGroupAllReduce
	OpLocalAlloc
	OpAtomicAdd
	OpAtomicExchange
	OpAtomicCompareExchange
	OpAtomicMin
	OpAtomicMax
	OpAtomicAnd
	OpAtomicOr
	OpAtomicXor

	// --- math intrinsics (section 4.E) ---
	OpMathAbs
	OpMathMin
	OpMathMax
	OpMathClamp
	OpMathSqrt
	OpMathRsqrt
	OpMathSin
	OpMathCos
	OpMathTan
	OpMathAsin
	OpMathAcos
	OpMathAtan
	OpMathAtan2
	OpMathSinh
	OpMathCosh
	OpMathTanh
	OpMathExp
	OpMathExp2
	OpMathExp10
	OpMathLog
	OpMathLog2
	OpMathLog10
	OpMathPow
	OpMathFloor
	OpMathCeiling
	OpMathTruncate
	OpMathRound
	OpMathIsNaN
	OpMathIsInfinity
	OpMathIsFinite
	OpMathPopCount
	OpMathLeadingZeros
	OpMathTrailingZeros

	// --- control flow (block terminators) ---
	OpJump
	OpBranch // Operands: [cond]; Targets: [then, else]
	OpReturn // Operands: return values (0 or more)
)

// CollectiveOp selects the associative operator a warp/group reduce/scan
// intrinsic folds over. A reduce/scan Value's ImmInt carries this
// selector: the opcode alone only says "reduce", not "reduce with which
// operator" (spec.md section 4.C collectives are parametric in Op[T]).
type CollectiveOp int64

const (
	CollectiveAdd CollectiveOp = iota
	CollectiveMax
	CollectiveMin
	CollectiveAnd
	CollectiveOr
	CollectiveXor
)

// terminators is the set of opcodes that may only appear as the final
// instruction of a block.
var terminators = map[Opcode]bool{
	OpJump:   true,
	OpBranch: true,
	OpReturn: true,
}

// IsTerminator reports whether op closes a basic block.
func (op Opcode) IsTerminator() bool { return terminators[op] }

// opcodeNames backs Opcode.String for every opcode group, including the
// device-model and math intrinsics, which backends print verbatim into
// diagnostic dumps.
var opcodeNames = map[Opcode]string{
	OpConstInt: "const.int", OpConstFloat: "const.float", OpParam: "param",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem", OpNeg: "neg",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr", OpNot: "not",
	OpCmpEq: "cmp.eq", OpCmpNe: "cmp.ne", OpCmpLt: "cmp.lt", OpCmpLe: "cmp.le", OpCmpGt: "cmp.gt", OpCmpGe: "cmp.ge",
	OpConvert:     "convert",
	OpViewLoad:    "view.load", OpViewStore: "view.store", OpViewSubview: "view.subview",
	OpViewCast:    "view.cast", OpViewAlignTo: "view.align_to", OpViewLen: "view.len", OpViewStride: "view.stride",
	OpIndexLinearize: "index.linearize", OpIndexReconstruct: "index.reconstruct",
	OpGridIndex: "grid.index", OpGridDimension: "grid.dimension", OpGridGlobalIndex: "grid.global_index",
	OpGroupIndex: "group.index", OpGroupDimension: "group.dimension",
	OpWarpIndex: "warp.index", OpWarpDimension: "warp.dimension", OpWarpLaneIndex: "warp.lane_index",
	OpWarpIsFirstLane: "warp.is_first_lane",
	OpGroupBarrier:    "group.barrier", OpBarrierPopCount: "group.barrier_popcount",
	OpBarrierAnd: "group.barrier_and", OpBarrierOr: "group.barrier_or", OpWarpBarrier: "warp.barrier",
	OpShuffle: "warp.shuffle", OpShuffleDown: "warp.shuffle_down", OpShuffleUp: "warp.shuffle_up",
	OpShuffleXor: "warp.shuffle_xor", OpBroadcast: "warp.broadcast",
	OpWarpReduce: "warp.reduce", OpWarpAllReduce: "warp.all_reduce",
	OpWarpInclusiveScan: "warp.inclusive_scan", OpWarpExclusiveScan: "warp.exclusive_scan",
	OpGroupInclusiveScan: "group.inclusive_scan", OpGroupExclusiveScan: "group.exclusive_scan",
	OpGroupAllReduce: "group.all_reduce", OpLocalAlloc: "local.alloc",
	OpAtomicAdd: "atomic.add", OpAtomicExchange: "atomic.exchange", OpAtomicCompareExchange: "atomic.cmpxchg",
	OpAtomicMin: "atomic.min", OpAtomicMax: "atomic.max",
	OpAtomicAnd: "atomic.and", OpAtomicOr: "atomic.or", OpAtomicXor: "atomic.xor",
	OpMathAbs: "math.abs", OpMathMin: "math.min", OpMathMax: "math.max", OpMathClamp: "math.clamp",
	OpMathSqrt: "math.sqrt", OpMathRsqrt: "math.rsqrt",
	OpMathSin: "math.sin", OpMathCos: "math.cos", OpMathTan: "math.tan",
	OpMathAsin: "math.asin", OpMathAcos: "math.acos", OpMathAtan: "math.atan", OpMathAtan2: "math.atan2",
	OpMathSinh: "math.sinh", OpMathCosh: "math.cosh", OpMathTanh: "math.tanh",
	OpMathExp: "math.exp", OpMathExp2: "math.exp2", OpMathExp10: "math.exp10",
	OpMathLog: "math.log", OpMathLog2: "math.log2", OpMathLog10: "math.log10", OpMathPow: "math.pow",
	OpMathFloor: "math.floor", OpMathCeiling: "math.ceiling", OpMathTruncate: "math.truncate", OpMathRound: "math.round",
	OpMathIsNaN: "math.is_nan", OpMathIsInfinity: "math.is_infinity", OpMathIsFinite: "math.is_finite",
	OpMathPopCount: "math.popcount", OpMathLeadingZeros: "math.leading_zeros", OpMathTrailingZeros: "math.trailing_zeros",
	OpJump: "jump", OpBranch: "branch", OpReturn: "return",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "invalid"
}
