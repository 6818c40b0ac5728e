package ir

import "fmt"

// Instruction is any operation within a BasicBlock, terminators included.
type Instruction interface {
	ID() int
	Block() BlockID
	// Results are the values this instruction defines, in order. Most
	// instructions define zero or one result; none defines more than the
	// backend's schedule can reorder independently.
	Results() []*Value
	// Operands are the values this instruction consumes, in program order.
	Operands() []*Value
	// Commutative reports whether Operands() may be reordered without
	// changing meaning, letting the scheduler elide unnecessary stack
	// moves (spec §4.3, §8 scenario E6).
	Commutative() bool
	String() string
}

// Terminator is the instruction kind that ends a BasicBlock and determines
// control flow to its successors.
type Terminator interface {
	Instruction
	// BranchInfo classifies this terminator for liveness/spill purposes.
	BranchInfo() BranchInfo
}

// BranchKind classifies a terminator the way liveness and spill need to:
// whether it has zero, one, or more successors carrying live values across
// the edge.
type BranchKind int

const (
	// NotABranch: no successors (return) or successors reached by a
	// mid-block fallthrough that isn't itself a control transfer.
	NotABranch BranchKind = iota
	// SingleDest: exactly one successor (unconditional jump).
	SingleDest
	// MultiDest: more than one successor (conditional branch, switch).
	MultiDest
)

// BranchInfo carries the successors and per-successor argument lists of a
// terminator, or is empty for NotABranch.
type BranchInfo struct {
	Kind BranchKind
	// Dests, Args are parallel: Args[i] are the block-parameter arguments
	// supplied to Dests[i].
	Dests []BlockID
	Args  [][]*Value
}

// --- concrete instructions -------------------------------------------------

type instBase struct {
	id    int
	block BlockID
}

func (b *instBase) ID() int       { return b.id }
func (b *instBase) Block() BlockID { return b.block }

// ConstInst materializes a compile-time-known constant.
type ConstInst struct {
	instBase
	Result *Value
	Value  int64
}

func (i *ConstInst) Results() []*Value   { return []*Value{i.Result} }
func (i *ConstInst) Operands() []*Value  { return nil }
func (i *ConstInst) Commutative() bool   { return false }
func (i *ConstInst) String() string {
	return fmt.Sprintf("%s = const %d", i.Result, i.Value)
}

// BinOp enumerates the binary arithmetic/comparison/bitwise operators the
// backend lowers directly (spec §6 "arithmetic/comparison/bitwise ops").
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	And
	Or
	Xor
	Eq
	Lt
	Gt
)

var binOpNames = map[BinOp]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div",
	And: "and", Or: "or", Xor: "xor", Eq: "eq", Lt: "lt", Gt: "gt",
}

var commutativeBinOps = map[BinOp]bool{
	Add: true, Mul: true, And: true, Or: true, Xor: true, Eq: true,
}

// BinaryInst is a two-operand arithmetic, comparison, or bitwise op.
type BinaryInst struct {
	instBase
	Op          BinOp
	Result      *Value
	Lhs, Rhs    *Value
}

func (i *BinaryInst) Results() []*Value  { return []*Value{i.Result} }
func (i *BinaryInst) Operands() []*Value { return []*Value{i.Lhs, i.Rhs} }
func (i *BinaryInst) Commutative() bool  { return commutativeBinOps[i.Op] }
func (i *BinaryInst) String() string {
	return fmt.Sprintf("%s = %s %s, %s", i.Result, binOpNames[i.Op], i.Lhs, i.Rhs)
}

// LoadGlobalInst reads the value stored at a global variable's address.
type LoadGlobalInst struct {
	instBase
	Result *Value
	Global *GlobalValue
}

func (i *LoadGlobalInst) Results() []*Value  { return []*Value{i.Result} }
func (i *LoadGlobalInst) Operands() []*Value { return nil }
func (i *LoadGlobalInst) Commutative() bool  { return false }
func (i *LoadGlobalInst) String() string {
	return fmt.Sprintf("%s = load_global %s", i.Result, i.Global.Symbol)
}

// StoreGlobalInst writes a value to a global variable's address.
type StoreGlobalInst struct {
	instBase
	Global *GlobalValue
	Value  *Value
}

func (i *StoreGlobalInst) Results() []*Value  { return nil }
func (i *StoreGlobalInst) Operands() []*Value { return []*Value{i.Value} }
func (i *StoreGlobalInst) Commutative() bool  { return false }
func (i *StoreGlobalInst) String() string {
	return fmt.Sprintf("store_global %s, %s", i.Global.Symbol, i.Value)
}

// CallInst invokes another function, consuming its arguments and producing
// its results in order (spec §6 "procedure invocation").
type CallInst struct {
	instBase
	Callee  string
	Args    []*Value
	Result  []*Value
}

func (i *CallInst) Results() []*Value  { return i.Result }
func (i *CallInst) Operands() []*Value { return i.Args }
func (i *CallInst) Commutative() bool  { return false }
func (i *CallInst) String() string {
	return fmt.Sprintf("call %s(%v) -> %v", i.Callee, i.Args, i.Result)
}

// AssertInst traps execution if Cond is false (spec §6 "assertions").
type AssertInst struct {
	instBase
	Cond *Value
	Span SourceSpan
}

func (i *AssertInst) Results() []*Value  { return nil }
func (i *AssertInst) Operands() []*Value { return []*Value{i.Cond} }
func (i *AssertInst) Commutative() bool  { return false }
func (i *AssertInst) String() string     { return fmt.Sprintf("assert %s", i.Cond) }

// --- terminators ------------------------------------------------------------

// RetInst returns from the function, optionally with a value.
type RetInst struct {
	instBase
	Value *Value // nil for a void return
}

func (i *RetInst) Results() []*Value  { return nil }
func (i *RetInst) Operands() []*Value {
	if i.Value == nil {
		return nil
	}
	return []*Value{i.Value}
}
func (i *RetInst) Commutative() bool { return false }
func (i *RetInst) String() string {
	if i.Value == nil {
		return "ret"
	}
	return fmt.Sprintf("ret %s", i.Value)
}
func (i *RetInst) BranchInfo() BranchInfo { return BranchInfo{Kind: NotABranch} }

// JumpInst is an unconditional branch, carrying arguments for the target
// block's parameters.
type JumpInst struct {
	instBase
	Target BlockID
	Args   []*Value
}

func (i *JumpInst) Results() []*Value  { return nil }
func (i *JumpInst) Operands() []*Value { return i.Args }
func (i *JumpInst) Commutative() bool  { return false }
func (i *JumpInst) String() string {
	return fmt.Sprintf("jump block%d(%v)", i.Target, i.Args)
}
func (i *JumpInst) BranchInfo() BranchInfo {
	return BranchInfo{Kind: SingleDest, Dests: []BlockID{i.Target}, Args: [][]*Value{i.Args}}
}

// BranchInst is a two-way conditional branch.
type BranchInst struct {
	instBase
	Cond             *Value
	TrueBlk, FalseBlk BlockID
	TrueArgs, FalseArgs []*Value
}

func (i *BranchInst) Results() []*Value { return nil }
func (i *BranchInst) Operands() []*Value {
	ops := make([]*Value, 0, 1+len(i.TrueArgs)+len(i.FalseArgs))
	ops = append(ops, i.Cond)
	ops = append(ops, i.TrueArgs...)
	ops = append(ops, i.FalseArgs...)
	return ops
}
func (i *BranchInst) Commutative() bool { return false }
func (i *BranchInst) String() string {
	return fmt.Sprintf("branch %s, block%d(%v), block%d(%v)",
		i.Cond, i.TrueBlk, i.TrueArgs, i.FalseBlk, i.FalseArgs)
}
func (i *BranchInst) BranchInfo() BranchInfo {
	return BranchInfo{
		Kind:  MultiDest,
		Dests: []BlockID{i.TrueBlk, i.FalseBlk},
		Args:  [][]*Value{i.TrueArgs, i.FalseArgs},
	}
}
