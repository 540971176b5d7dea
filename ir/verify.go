package ir

import (
	"fmt"

	"github.com/accelcore/kernelrt/kernelerr"
)

// Verify checks block termination, that every operand is defined in a
// dominating block, and that every non-entry block is reachable. It does
// not check operand or result types. rtcontext.Context.Compile runs it
// once, after the
// Inline/ConstProp/DCE/CFGSimplify pipeline, when
// ContextProperties.enable_verifier is set. Returns the first violation
// found, wrapped as a CompilationFailedError with Stage "verify".
func Verify(m *Module) error {
	if err := verifyBlocksTerminated(m); err != nil {
		return err
	}
	if err := verifyOperandsDefined(m); err != nil {
		return err
	}
	if err := verifyDominance(m); err != nil {
		return err
	}
	return nil
}

func fail(detail string) error {
	return &kernelerr.CompilationFailedError{Stage: "verify", Detail: detail}
}

// verifyBlocksTerminated checks every reachable block ends in exactly one
// terminator and contains no terminator before its last instruction.
func verifyBlocksTerminated(m *Module) error {
	for bi := range m.Fn.Blocks {
		blk := &m.Fn.Blocks[bi]
		if len(blk.Insts) == 0 {
			continue // an empty husk left by CFGSimplify; not reachable
		}
		for i, id := range blk.Insts {
			op := m.values[id].Op
			last := i == len(blk.Insts)-1
			if op.IsTerminator() != last {
				return fail(fmt.Sprintf("block %q: terminator %s must be the last instruction", blk.Name, op))
			}
		}
	}
	return nil
}

// verifyOperandsDefined checks every operand handle references a value
// whose defining block dominates the use — the core SSA well-formedness
// property — approximated here by requiring the defining block to be the
// same block or a strict dominator (computed via verifyDominance's
// dominator sets) of the using block. Parameters (OpParam, placed in the
// entry block) and arena-only constants interned by passes (Block ==
// InvalidBlock) are always valid.
func verifyOperandsDefined(m *Module) error {
	dom := computeDominators(m)
	for i := range m.values {
		v := &m.values[i]
		if v.Block == InvalidBlock {
			continue // block-less value, e.g. an interned constant
		}
		for _, opID := range v.Operands {
			if int(opID) < 0 || int(opID) >= len(m.values) {
				return fail(fmt.Sprintf("value %d: operand %d out of range", v.ID, opID))
			}
			def := &m.values[opID]
			if def.Block == InvalidBlock {
				continue
			}
			if def.Block == v.Block {
				continue
			}
			if !dominatorSetContains(dom, v.Block, def.Block) {
				return fail(fmt.Sprintf("value %d in block %d uses value %d from non-dominating block %d", v.ID, v.Block, def.ID, def.Block))
			}
		}
	}
	return nil
}

// verifyDominance checks the module has an entry block and every other
// non-empty block has at least one predecessor; the entry block's own
// predecessors are not checked.
func verifyDominance(m *Module) error {
	entry := m.Fn.Entry
	if entry == InvalidBlock {
		return fail("module has no entry block")
	}
	for bi := range m.Fn.Blocks {
		blk := &m.Fn.Blocks[bi]
		if len(blk.Insts) == 0 {
			continue
		}
		if BlockID(bi) == entry {
			continue
		}
		if len(blk.Preds) == 0 {
			return fail(fmt.Sprintf("block %q is unreachable (no predecessors)", blk.Name))
		}
	}
	return nil
}

// computeDominators runs the standard iterative dataflow dominator
// algorithm over the reachable CFG rooted at the entry block.
func computeDominators(m *Module) map[BlockID]map[BlockID]bool {
	entry := m.Fn.Entry
	reachable := reachableBlocks(m, entry)
	dom := make(map[BlockID]map[BlockID]bool, len(reachable))
	for _, b := range reachable {
		all := make(map[BlockID]bool, len(reachable))
		for _, o := range reachable {
			all[o] = true
		}
		dom[b] = all
	}
	if _, ok := dom[entry]; ok {
		dom[entry] = map[BlockID]bool{entry: true}
	}
	changed := true
	for changed {
		changed = false
		for _, b := range reachable {
			if b == entry {
				continue
			}
			blk := &m.Fn.Blocks[b]
			var merged map[BlockID]bool
			for _, p := range blk.Preds {
				pd, ok := dom[p]
				if !ok {
					continue
				}
				if merged == nil {
					merged = copySet(pd)
				} else {
					merged = intersect(merged, pd)
				}
			}
			if merged == nil {
				merged = map[BlockID]bool{}
			}
			merged[b] = true
			if !setEqual(merged, dom[b]) {
				dom[b] = merged
				changed = true
			}
		}
	}
	return dom
}

func reachableBlocks(m *Module, entry BlockID) []BlockID {
	if entry == InvalidBlock {
		return nil
	}
	seen := map[BlockID]bool{entry: true}
	order := []BlockID{entry}
	queue := []BlockID{entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range m.Successors(b) {
			if !seen[s] {
				seen[s] = true
				order = append(order, s)
				queue = append(queue, s)
			}
		}
	}
	return order
}

func dominatorSetContains(dom map[BlockID]map[BlockID]bool, user, def BlockID) bool {
	set, ok := dom[user]
	if !ok {
		return true // unreachable block; not this check's concern
	}
	return set[def]
}

func copySet(s map[BlockID]bool) map[BlockID]bool {
	out := make(map[BlockID]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[BlockID]bool) map[BlockID]bool {
	out := make(map[BlockID]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func setEqual(a, b map[BlockID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
