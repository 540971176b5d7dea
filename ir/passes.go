package ir

// InlinePolicy controls the aggressiveness of the inlining pass, mirroring
// ContextProperties.InliningMode (spec.md section 6). Because a Module
// holds exactly one entry function (no call graph), "inlining" here means
// folding compile-time-foldable sequences the capture layer would
// otherwise leave as nested operations — chiefly nested subview
// composition, which the spec's sub-view round-trip invariant (section 8
// scenario 6) guarantees is associative and therefore safe to fold.
type InlinePolicy int

const (
	InlineNone InlinePolicy = iota
	InlineConservative
	InlineAggressive
)

// Inline folds nested OpViewSubview chains: subview(subview(v, i, n), j, m)
// becomes subview(v, i+j, m). InlineNone performs no folding. Conservative
// folds only when the inner subview has no other uses (so it is not
// observably eliminated out from under a still-live value); Aggressive
// folds unconditionally. Returns the number of sites folded.
func Inline(m *Module, policy InlinePolicy) int {
	if policy == InlineNone {
		return 0
	}
	uses := countUses(m)
	folded := 0
	for i := range m.values {
		v := &m.values[i]
		if v.Op != OpViewSubview {
			continue
		}
		inner := &m.values[v.Operands[0]]
		if inner.Op != OpViewSubview {
			continue
		}
		if policy == InlineConservative && uses[inner.ID] > 1 {
			continue
		}
		outerStart := &m.values[v.Operands[1]]
		innerStart := &m.values[inner.Operands[1]]
		if outerStart.Op != OpConstInt || innerStart.Op != OpConstInt {
			continue // only fold when both starts are compile-time constants
		}
		combinedStart := innerStart.ImmInt + outerStart.ImmInt
		v.Operands[0] = inner.Operands[0]
		v.Operands[1] = m.internConstInt(I64(), combinedStart)
		folded++
	}
	return folded
}

// internConstInt appends a fresh OpConstInt value without attaching it to
// any block's instruction list; it is referenced only as an operand, the
// same convention Builder.Param uses for block-less values.
func (m *Module) internConstInt(t Type, v int64) ValueID {
	id := ValueID(len(m.values))
	m.values = append(m.values, Value{ID: id, Op: OpConstInt, Type: t, ImmInt: v})
	return id
}

// ConstProp folds arithmetic/comparison instructions whose operands are
// both compile-time constants, replacing the instruction's opcode with a
// plain OpConstInt/OpConstFloat carrying the folded value. Instructions
// are left in place (so downstream ValueIDs stay valid); DCE later
// removes any that become unreferenced. Returns the number folded.
func ConstProp(m *Module, enabled bool) int {
	if !enabled {
		return 0
	}
	folded := 0
	for i := range m.values {
		v := &m.values[i]
		if len(v.Operands) != 2 {
			continue
		}
		a := &m.values[v.Operands[0]]
		b := &m.values[v.Operands[1]]
		if a.Op == OpConstInt && b.Op == OpConstInt {
			if r, ok := foldIntBinOp(v.Op, a.ImmInt, b.ImmInt); ok {
				v.Op = OpConstInt
				v.ImmInt = r
				v.Operands = nil
				folded++
			}
		} else if a.Op == OpConstFloat && b.Op == OpConstFloat {
			if r, ok := foldFloatBinOp(v.Op, a.ImmFloat, b.ImmFloat); ok {
				v.Op = OpConstFloat
				v.ImmFloat = r
				v.Operands = nil
				folded++
			}
		}
	}
	return folded
}

func foldIntBinOp(op Opcode, a, b int64) (int64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpDiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case OpRem:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case OpAnd:
		return a & b, true
	case OpOr:
		return a | b, true
	case OpXor:
		return a ^ b, true
	case OpShl:
		return a << uint(b), true
	case OpShr:
		return a >> uint(b), true
	}
	return 0, false
}

func foldFloatBinOp(op Opcode, a, b float64) (float64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpDiv:
		return a / b, true
	}
	return 0, false
}

// countUses returns, for every ValueID, the number of other values that
// reference it as an operand or branch target's condition — used by
// Inline's conservative mode and by DCE's liveness sweep.
func countUses(m *Module) map[ValueID]int {
	uses := make(map[ValueID]int, len(m.values))
	for i := range m.values {
		for _, op := range m.values[i].Operands {
			uses[op]++
		}
	}
	return uses
}

// hasSideEffect reports whether an instruction must be kept even with a
// zero use-count: stores, barriers, atomics and terminators all affect
// program state or control flow beyond their result value.
func hasSideEffect(op Opcode) bool {
	if op.IsTerminator() {
		return true
	}
	switch op {
	case OpViewStore, OpGroupBarrier, OpWarpBarrier,
		OpAtomicAdd, OpAtomicExchange, OpAtomicCompareExchange,
		OpAtomicMin, OpAtomicMax, OpAtomicAnd, OpAtomicOr, OpAtomicXor,
		OpBarrierPopCount, OpBarrierAnd, OpBarrierOr:
		return true
	}
	return false
}

// DCE removes instructions with no uses and no side effect from every
// block's instruction list. The arena slots themselves are left in place
// (handles must stay stable); only Block.Insts is pruned. Returns the
// number of instructions removed.
func DCE(m *Module) int {
	uses := countUses(m)
	removed := 0
	for bi := range m.Fn.Blocks {
		blk := &m.Fn.Blocks[bi]
		kept := blk.Insts[:0]
		for _, id := range blk.Insts {
			v := &m.values[id]
			if uses[id] == 0 && !hasSideEffect(v.Op) {
				removed++
				continue
			}
			kept = append(kept, id)
		}
		blk.Insts = kept
	}
	return removed
}

// CFGSimplify merges a block into its single predecessor when that
// predecessor's only successor is this block and this block's only
// predecessor is it (a "fall-through" chain left over from straight-line
// capture). Returns the number of blocks merged away. Merged blocks are
// left as empty husks (Insts == nil) rather than compacted out of the
// arena, preserving BlockID stability for any outstanding handles.
func CFGSimplify(m *Module) int {
	merged := 0
	for bi := range m.Fn.Blocks {
		blk := &m.Fn.Blocks[bi]
		if len(blk.Insts) == 0 || len(blk.Preds) != 1 {
			continue
		}
		pred := &m.Fn.Blocks[blk.Preds[0]]
		if len(pred.Insts) == 0 {
			continue
		}
		term := &m.values[pred.Insts[len(pred.Insts)-1]]
		if term.Op != OpJump || len(term.Targets) != 1 || term.Targets[0] != blk.ID {
			continue
		}
		if pred.ID == blk.ID {
			continue // self-loop, not a fall-through chain
		}
		// Drop the predecessor's trailing jump and append this block's
		// instructions in place, re-pointing their Block field.
		pred.Insts = pred.Insts[:len(pred.Insts)-1]
		for _, id := range blk.Insts {
			m.values[id].Block = pred.ID
			pred.Insts = append(pred.Insts, id)
		}
		for _, succID := range m.Successors(blk.ID) {
			succ := &m.Fn.Blocks[succID]
			for i, p := range succ.Preds {
				if p == blk.ID {
					succ.Preds[i] = pred.ID
				}
			}
		}
		blk.Insts = nil
		blk.Preds = nil
		if m.Fn.Entry == blk.ID {
			m.Fn.Entry = pred.ID
		}
		merged++
	}
	return merged
}
