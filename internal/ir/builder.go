package ir

// FunctionBuilder assembles Function fixtures for tests without requiring a
// front-end, mirroring the hand-built IR fixtures in
// kanso-lang-kanso/internal/ir's own tests.
type FunctionBuilder struct {
	f *Function
}

// NewFunctionBuilder starts a new function named name.
func NewFunctionBuilder(name string) *FunctionBuilder {
	return &FunctionBuilder{f: &Function{Name: name}}
}

// Block appends a new, empty block and returns its ID.
func (fb *FunctionBuilder) Block(name string) BlockID {
	id := BlockID(len(fb.f.Blocks))
	fb.f.Blocks = append(fb.f.Blocks, &BasicBlock{ID: id, Name: name})
	return id
}

// Param appends a parameter of type typ to block b and returns the new
// value.
func (fb *FunctionBuilder) Param(b BlockID, name string, typ Type) *Value {
	v := fb.newValue(name, typ, b, nil)
	blk := fb.f.Block(b)
	blk.Params = append(blk.Params, v)
	return v
}

func (fb *FunctionBuilder) newValue(name string, typ Type, block BlockID, def Instruction) *Value {
	v := &Value{ID: fb.f.nextValue, Type: typ, Name: name, DefBlock: block, DefInst: def}
	fb.f.nextValue++
	return v
}

func (fb *FunctionBuilder) append(b BlockID, inst Instruction) {
	blk := fb.f.Block(b)
	blk.Instrs = append(blk.Instrs, inst)
}

// Const appends a ConstInst to b.
func (fb *FunctionBuilder) Const(b BlockID, name string, typ Type, value int64) *Value {
	id := len(fb.f.Block(b).Instrs)
	v := fb.newValue(name, typ, b, nil)
	inst := &ConstInst{instBase: instBase{id: id, block: b}, Result: v, Value: value}
	v.DefInst = inst
	fb.append(b, inst)
	return v
}

// Binary appends a BinaryInst to b.
func (fb *FunctionBuilder) Binary(b BlockID, name string, typ Type, op BinOp, lhs, rhs *Value) *Value {
	id := len(fb.f.Block(b).Instrs)
	v := fb.newValue(name, typ, b, nil)
	inst := &BinaryInst{instBase: instBase{id: id, block: b}, Op: op, Result: v, Lhs: lhs, Rhs: rhs}
	v.DefInst = inst
	fb.append(b, inst)
	return v
}

// Call appends a CallInst to b.
func (fb *FunctionBuilder) Call(b BlockID, callee string, args []*Value, resultNames []string, resultTypes []Type) []*Value {
	id := len(fb.f.Block(b).Instrs)
	results := make([]*Value, len(resultNames))
	for i := range results {
		results[i] = fb.newValue(resultNames[i], resultTypes[i], b, nil)
	}
	inst := &CallInst{instBase: instBase{id: id, block: b}, Callee: callee, Args: args, Result: results}
	for _, r := range results {
		r.DefInst = inst
	}
	fb.append(b, inst)
	return results
}

// Assert appends an AssertInst to b.
func (fb *FunctionBuilder) Assert(b BlockID, cond *Value, span SourceSpan) {
	id := len(fb.f.Block(b).Instrs)
	fb.append(b, &AssertInst{instBase: instBase{id: id, block: b}, Cond: cond, Span: span})
}

// Jump terminates b with an unconditional branch to target.
func (fb *FunctionBuilder) Jump(b, target BlockID, args []*Value) {
	id := len(fb.f.Block(b).Instrs)
	fb.append(b, &JumpInst{instBase: instBase{id: id, block: b}, Target: target, Args: args})
}

// Branch terminates b with a two-way conditional branch.
func (fb *FunctionBuilder) Branch(b BlockID, cond *Value, trueBlk, falseBlk BlockID, trueArgs, falseArgs []*Value) {
	id := len(fb.f.Block(b).Instrs)
	fb.append(b, &BranchInst{
		instBase: instBase{id: id, block: b}, Cond: cond,
		TrueBlk: trueBlk, FalseBlk: falseBlk, TrueArgs: trueArgs, FalseArgs: falseArgs,
	})
}

// Ret terminates b with a return.
func (fb *FunctionBuilder) Ret(b BlockID, value *Value) {
	id := len(fb.f.Block(b).Instrs)
	fb.append(b, &RetInst{instBase: instBase{id: id, block: b}, Value: value})
}

// Build finalizes the function, computing its CFG. Entry is always block 0.
func (fb *FunctionBuilder) Build() (*Function, error) {
	fb.f.Entry = 0
	if err := BuildCFG(fb.f); err != nil {
		return nil, err
	}
	return fb.f, nil
}
