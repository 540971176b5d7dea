package ir

// Builder provides an SSA-construction API over a Module's arena:
// NewBlock, EmitBinOp/EmitViewLoad/..., Seal. Per spec.md section 4.E, host
// capture of a kernel function analyses it against the Device Model and
// emits through this same API; capture itself is out of scope for this
// module, so the Builder is exercised directly by hand-built IR modules
// in this package's own tests and by the backends that consume them.
type Builder struct {
	mod *Module
	cur BlockID
}

// NewBuilder starts building into mod, positioned at no block; call
// NewBlock before emitting any instruction.
func NewBuilder(mod *Module) *Builder {
	return &Builder{mod: mod, cur: InvalidBlock}
}

// NewBlock appends a fresh, unsealed block and positions the builder at
// it. The first block created on an empty module becomes the function's
// entry block.
func (b *Builder) NewBlock(name string) BlockID {
	id := BlockID(len(b.mod.Fn.Blocks))
	b.mod.Fn.Blocks = append(b.mod.Fn.Blocks, Block{ID: id, Name: name})
	if b.mod.Fn.Entry == InvalidBlock {
		b.mod.Fn.Entry = id
	}
	b.cur = id
	return id
}

// SetBlock repositions the builder to emit into an existing block,
// useful when interleaving construction of branches.
func (b *Builder) SetBlock(id BlockID) { b.cur = id }

// Current returns the block the builder is currently emitting into.
func (b *Builder) Current() BlockID { return b.cur }

// Param declares the next function parameter with type t and appends it
// to Fn.Params; parameters are values with no defining instruction
// (OpParam), living in the entry block.
func (b *Builder) Param(name string, t Type) ValueID {
	id := b.newValue(Value{Op: OpParam, Type: t, Name: name, Block: b.mod.Fn.Entry})
	b.mod.Fn.Params = append(b.mod.Fn.Params, id)
	// OpParam values are not appended to any block's Insts: they are
	// referenced by ValueID directly and carry no side effect to order.
	return id
}

// newValue allocates v in the arena, assigns it a fresh ValueID, and
// returns the handle.
func (b *Builder) newValue(v Value) ValueID {
	id := ValueID(len(b.mod.values))
	v.ID = id
	b.mod.values = append(b.mod.values, v)
	return id
}

// emit allocates v, appends it to the current block's instruction list,
// and returns its handle. Terminator opcodes must be emitted last; emit
// does not check this, Verify does.
func (b *Builder) emit(v Value) ValueID {
	v.Block = b.cur
	id := b.newValue(v)
	blk := &b.mod.Fn.Blocks[b.cur]
	blk.Insts = append(blk.Insts, id)
	return id
}

// EmitConstInt emits an integer constant of type t.
func (b *Builder) EmitConstInt(t Type, v int64) ValueID {
	return b.emit(Value{Op: OpConstInt, Type: t, ImmInt: v})
}

// EmitConstFloat emits a floating-point constant of type t.
func (b *Builder) EmitConstFloat(t Type, v float64) ValueID {
	return b.emit(Value{Op: OpConstFloat, Type: t, ImmFloat: v})
}

// EmitBinOp emits a binary arithmetic/bitwise/comparison instruction.
// Comparison opcodes always produce Int1 regardless of the operand type;
// every other opcode in this family produces resultType.
func (b *Builder) EmitBinOp(op Opcode, resultType Type, lhs, rhs ValueID) ValueID {
	t := resultType
	switch op {
	case OpCmpEq, OpCmpNe, OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe:
		t = I1()
	}
	return b.emit(Value{Op: op, Type: t, Operands: []ValueID{lhs, rhs}})
}

// EmitUnary emits a unary arithmetic/bitwise instruction (OpNeg, OpNot).
func (b *Builder) EmitUnary(op Opcode, resultType Type, v ValueID) ValueID {
	return b.emit(Value{Op: op, Type: resultType, Operands: []ValueID{v}})
}

// EmitConvert emits a type conversion of v to targetType.
func (b *Builder) EmitConvert(targetType Type, v ValueID) ValueID {
	return b.emit(Value{Op: OpConvert, Type: targetType, Operands: []ValueID{v}})
}

// EmitViewLoad emits a view element load: view[index] -> elemType.
func (b *Builder) EmitViewLoad(elemType Type, view, index ValueID) ValueID {
	return b.emit(Value{Op: OpViewLoad, Type: elemType, Operands: []ValueID{view, index}})
}

// EmitViewStore emits a view element store: view[index] = value. Stores
// have no result value (Type is left zero).
func (b *Builder) EmitViewStore(view, index, value ValueID) ValueID {
	return b.emit(Value{Op: OpViewStore, Operands: []ValueID{view, index, value}})
}

// EmitViewSubview emits view.subview(start, count) -> view. The result
// carries the same type as the input view, since a subview never changes
// element kind.
func (b *Builder) EmitViewSubview(view, start, count ValueID) ValueID {
	t := b.mod.Value(view).Type
	return b.emit(Value{Op: OpViewSubview, Type: t, Operands: []ValueID{view, start, count}})
}

// EmitViewCast emits view.cast<U>() -> view of elemType U.
func (b *Builder) EmitViewCast(elemType Type, view ValueID) ValueID {
	return b.emit(Value{Op: OpViewCast, Type: PtrTo(elemType), Operands: []ValueID{view}})
}

// EmitViewAlignTo emits view.align_to(alignBytes) -> struct{prefix, main},
// both of the input view's own type.
func (b *Builder) EmitViewAlignTo(view, alignBytes ValueID) ValueID {
	t := b.mod.Value(view).Type
	return b.emit(Value{Op: OpViewAlignTo, Type: Type{Kind: KindStruct, Fields: []Type{t, t}}, Operands: []ValueID{view, alignBytes}})
}

// EmitViewLen emits view.len() -> i64.
func (b *Builder) EmitViewLen(view ValueID) ValueID {
	return b.emit(Value{Op: OpViewLen, Type: I64(), Operands: []ValueID{view}})
}

// EmitViewStride emits view.stride() -> an opaque stride descriptor.
func (b *Builder) EmitViewStride(view ValueID) ValueID {
	return b.emit(Value{Op: OpViewStride, Type: Ptr(), Operands: []ValueID{view}})
}

// EmitAtomicRMW emits an atomic read-modify-write against view[index].
func (b *Builder) EmitAtomicRMW(op Opcode, resultType Type, view, index, operand ValueID) ValueID {
	return b.emit(Value{Op: op, Type: resultType, Operands: []ValueID{view, index, operand}})
}

// EmitAtomicCompareExchange emits atomic.cmpxchg(view, index, expected, new).
func (b *Builder) EmitAtomicCompareExchange(resultType Type, view, index, expected, newVal ValueID) ValueID {
	return b.emit(Value{Op: OpAtomicCompareExchange, Type: resultType, Operands: []ValueID{view, index, expected, newVal}})
}

// EmitIntrinsic emits a device-model or math intrinsic call (section 4.C
// / 4.E) with arbitrary operands and a result type.
func (b *Builder) EmitIntrinsic(op Opcode, resultType Type, operands ...ValueID) ValueID {
	return b.emit(Value{Op: op, Type: resultType, Operands: operands})
}

// EmitCollective emits a warp/group reduce/scan intrinsic (OpWarpReduce,
// OpWarpAllReduce, OpWarpInclusiveScan, OpWarpExclusiveScan,
// OpGroupAllReduce, OpGroupInclusiveScan, OpGroupExclusiveScan) folding
// value with the given associative operator.
func (b *Builder) EmitCollective(op Opcode, resultType Type, operator CollectiveOp, value ValueID) ValueID {
	return b.emit(Value{Op: op, Type: resultType, ImmInt: int64(operator), Operands: []ValueID{value}})
}

// EmitLocalAlloc emits LocalMemory.Allocate<T>(n): a per-group scratch
// allocation of n elements of elemType.
func (b *Builder) EmitLocalAlloc(elemType Type, n ValueID) ValueID {
	return b.emit(Value{Op: OpLocalAlloc, Type: ArrayOf(elemType, 0), Operands: []ValueID{n}})
}

// EmitJump terminates the current block with an unconditional branch to
// target. Also links target as a predecessor of that block.
func (b *Builder) EmitJump(target BlockID) ValueID {
	id := b.emit(Value{Op: OpJump, Targets: []BlockID{target}})
	b.addPred(target, b.cur)
	return id
}

// EmitBranch terminates the current block with a conditional branch.
func (b *Builder) EmitBranch(cond ValueID, thenBlock, elseBlock BlockID) ValueID {
	id := b.emit(Value{Op: OpBranch, Operands: []ValueID{cond}, Targets: []BlockID{thenBlock, elseBlock}})
	b.addPred(thenBlock, b.cur)
	b.addPred(elseBlock, b.cur)
	return id
}

// EmitReturn terminates the current block, returning zero or more
// values.
func (b *Builder) EmitReturn(results ...ValueID) ValueID {
	return b.emit(Value{Op: OpReturn, Operands: results})
}

func (b *Builder) addPred(target, pred BlockID) {
	blk := &b.mod.Fn.Blocks[target]
	for _, p := range blk.Preds {
		if p == pred {
			return
		}
	}
	blk.Preds = append(blk.Preds, pred)
}

// Seal marks block id as structurally complete (no more predecessors
// will be added by code emitted after this call). It only sets the
// block's Sealed flag; CFGSimplify and Verify do not read it.
func (b *Builder) Seal(id BlockID) {
	b.mod.Fn.Blocks[id].Sealed = true
}

// Finish returns the module under construction. Intentionally
// side-effect free: callers may keep building after calling it.
func (b *Builder) Finish() *Module { return b.mod }
