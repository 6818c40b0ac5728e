package stackify

import (
	"github.com/pkg/errors"

	"kanso/internal/ir"
	"kanso/internal/liveness"
	"kanso/internal/masm"
	"kanso/internal/spill"
)

// CacheEntry holds a loop header's dependency graph, tree graph, and
// schedule, computed once and reused on every back-edge visit (spec §3
// "Lifecycle", SPEC_FULL §3 "Shared lifecycle rule").
type CacheEntry struct {
	DepGraph  *DependencyGraph
	TreeGraph *TreeGraph
}

// Stackify lowers f to a masm.Function: the single exported entry point of
// this package, corresponding to pass.rs's Stackify::run.
func Stackify(f *ir.Function, globals *ir.GlobalLayout) (*masm.Function, error) {
	if err := ir.BuildCFG(f); err != nil {
		return nil, errors.Wrap(err, "stackify")
	}
	// Split critical edges before any analysis runs, so spill's per-edge
	// placement (computeEdge) always has a block that belongs to exactly
	// one edge to work with.
	ir.SplitCriticalEdges(f)
	if err := ir.BuildCFG(f); err != nil {
		return nil, errors.Wrap(err, "stackify")
	}
	dt := ir.BuildDominatorTree(f)
	lf := ir.BuildLoopForest(f, dt)
	liv, err := liveness.Compute(f, dt, lf)
	if err != nil {
		return nil, errors.Wrap(err, "stackify")
	}
	sp, err := spill.Compute(f, dt, lf, liv)
	if err != nil {
		return nil, errors.Wrap(err, "stackify")
	}

	entryArgs := make([]ir.ValueID, len(f.EntryBlock().Params))
	for i, p := range f.EntryBlock().Params {
		entryArgs[i] = p.ID
	}

	c := &ctx{
		f: f, dt: dt, lf: lf, liv: liv, globals: globals, spillA: sp,
		sizeOf:  computeSizes(f),
		slots:   make(map[ir.ValueID]int),
		cache:   make(map[ir.BlockID]*CacheEntry),
		visited: make(map[ir.BlockID]bool),
	}

	e := NewEmitter(entryArgs)
	if err := c.enforceBudget(e, nil); err != nil {
		return nil, err
	}
	if err := c.emitRegion(e, f.Entry, noStop); err != nil {
		return nil, err
	}
	return &masm.Function{Name: f.Name, Body: e.Ops}, nil
}

// computeSizes maps every value in f to its type's stack-slot footprint,
// the quantity enforceBudget sums to decide whether the K=16 budget (spec
// §4.2) is exceeded.
func computeSizes(f *ir.Function) map[ir.ValueID]int {
	sizes := make(map[ir.ValueID]int)
	for _, b := range f.Blocks {
		for _, p := range b.Params {
			sizes[p.ID] = p.Type.Size()
		}
		for _, inst := range b.Instrs {
			for _, r := range inst.Results() {
				sizes[r.ID] = r.Type.Size()
			}
		}
	}
	return sizes
}

const noStop = ir.BlockID(^uint32(0))

type ctx struct {
	f       *ir.Function
	dt      *ir.DominatorTree
	lf      *ir.LoopForest
	liv     *liveness.Analysis
	spillA  *spill.Analysis
	globals *ir.GlobalLayout

	// sizeOf and slots back enforceBudget: sizeOf gives every value's
	// stack-slot footprint, slots assigns each spilled value a dedicated
	// local-memory slot the first time it is evicted.
	sizeOf  map[ir.ValueID]int
	slots   map[ir.ValueID]int
	nextSlot int

	cache   map[ir.BlockID]*CacheEntry
	visited map[ir.BlockID]bool

	// counts tracks, for the block currently being emitted, how many times
	// each value is still consumed (by a later instruction operand or by
	// the block's own liveness sink) from this point on. consume uses it
	// to decide whether an operand can be moved (its last use) or must be
	// duplicated first (spec §8 E1: a value with more than one use).
	counts map[ir.ValueID]int
}

// computeUseCounts counts every occurrence of each value as an operand
// across b's instructions (terminator included, since it's part of
// b.Instrs), plus one for every value the block's successors still need.
func computeUseCounts(b *ir.BasicBlock, liveOut map[ir.ValueID]uint32) map[ir.ValueID]int {
	counts := make(map[ir.ValueID]int)
	for _, inst := range b.Instrs {
		for _, op := range inst.Operands() {
			counts[op.ID]++
		}
	}
	for id := range liveOut {
		counts[id]++
	}
	return counts
}

// consume ensures v is resident (emitting its producer if needed), then
// brings it to the top: duplicating it first if it has further uses after
// this one, or moving it (its last use) otherwise.
func (c *ctx) consume(e *Emitter, tree *Tree, v *ir.Value) error {
	if err := c.ensureOperandEmitted(e, tree, v); err != nil {
		return err
	}
	c.counts[v.ID]--
	if c.counts[v.ID] > 0 {
		e.CopyToTop(v.ID)
		return c.enforceBudget(e, map[ir.ValueID]bool{v.ID: true})
	}
	e.MoveToTop(v.ID)
	return nil
}

// enforceBudget spills resident values, deepest and spill-analysis-flagged
// first, until e's operand stack no longer exceeds the K=16 slot budget
// (spec §4.2). Tree scheduling can reorder emission relative to the order
// the spill pass assumed, so this re-derives the eviction decision live
// from the Spilled set and stack depth rather than replaying spill.go's
// per-instruction plan verbatim; protect holds values (e.g. an operand
// about to be consumed) that must not be evicted even if over budget.
func (c *ctx) enforceBudget(e *Emitter, protect map[ir.ValueID]bool) error {
	for footprint(e.Stack, c.sizeOf) > spill.K {
		victim, ok := pickVictim(e.Stack, c.spillA, protect)
		if !ok {
			return errors.New("stackify: operand stack exceeds budget with no evictable value")
		}
		e.MoveToTop(victim)
		e.emit(masm.Op{Kind: masm.LocStore, Index: c.slotFor(victim)})
		e.Stack.Pop()
	}
	return nil
}

// slotFor returns victim's local-memory spill slot, assigning the next
// available one (sized for its footprint) the first time it is evicted.
func (c *ctx) slotFor(victim ir.ValueID) int {
	if s, ok := c.slots[victim]; ok {
		return s
	}
	slot := c.nextSlot
	c.nextSlot += c.sizeOf[victim]
	c.slots[victim] = slot
	return slot
}

// pickVictim chooses the deepest unprotected resident value, preferring
// one spill analysis already flagged as a spill candidate (c.spillA.
// Spilled) over one it didn't, since the latter is a conservative fallback
// rather than the plan spill analysis actually computed.
func pickVictim(stack *OperandStack, sp *spill.Analysis, protect map[ir.ValueID]bool) (ir.ValueID, bool) {
	fallback := ir.ValueID(0)
	haveFallback := false
	for i := len(stack.slots) - 1; i >= 0; i-- {
		id := stack.slots[i]
		if protect[id] {
			continue
		}
		if sp.Spilled[id] {
			return id, true
		}
		if !haveFallback {
			fallback, haveFallback = id, true
		}
	}
	return fallback, haveFallback
}

func footprint(stack *OperandStack, sizeOf map[ir.ValueID]int) int {
	total := 0
	for _, id := range stack.slots {
		total += sizeOf[id]
	}
	return total
}

func (c *ctx) blockGraphs(b *ir.BasicBlock) (*DependencyGraph, *TreeGraph) {
	if entry, ok := c.cache[b.ID]; ok {
		return entry.DepGraph, entry.TreeGraph
	}
	dg := BuildDependencyGraph(c.f, b, c.liv.LiveOut[b.ID])
	tg := BuildTreeGraph(dg)
	if c.lf.ByHeader[b.ID] != nil {
		c.cache[b.ID] = &CacheEntry{DepGraph: dg, TreeGraph: tg}
	}
	return dg, tg
}

// emitStraightLine emits every non-terminator tree of b's schedule, then
// returns the terminator node (not yet emitted) for the caller to handle.
func (c *ctx) emitStraightLine(e *Emitter, b *ir.BasicBlock) (*Node, error) {
	_, tg := c.blockGraphs(b)
	c.counts = computeUseCounts(b, c.liv.LiveOut[b.ID])

	var term *Node
	for _, tree := range tg.Schedule {
		if tree.Root.Kind == InstNode && isTerminatorNode(tree.Root) {
			term = tree.Root
			// The terminator itself is emitted by control.go, not here,
			// but its operands (e.g. a branch condition with no other
			// consumer, fused into this same tree) must already be
			// resident by the time it gets there.
			for _, op := range tree.Root.Inst.Operands() {
				if err := c.ensureOperandEmitted(e, tree, op); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := c.emitTree(e, tree); err != nil {
			return nil, err
		}
	}
	return term, nil
}

// emitTree emits one tree's root (and, recursively, any absorbed
// dependency not already resident), in postorder with reverse-argument
// sibling order (spec §4.3 "postorder-DFS-per-tree emission").
func (c *ctx) emitTree(e *Emitter, tree *Tree) error {
	return c.emitNode(e, tree, tree.Root)
}

func (c *ctx) emitNode(e *Emitter, tree *Tree, n *Node) error {
	if n.Kind == StackNode {
		// A value that must remain live past this block: if it's already
		// on the stack it needs nothing further; otherwise its producer
		// must be emitted first.
		if n.Value != nil && e.Stack.Position(n.Value.ID) >= 0 {
			return nil
		}
	}

	switch inst := n.Inst.(type) {
	case nil:
		return nil
	case *ir.ConstInst:
		if pos := e.Stack.Position(inst.Result.ID); pos >= 0 {
			return nil
		}
		e.PushConst(inst.Result.ID, inst.Value)
		return c.enforceBudget(e, nil)
	case *ir.BinaryInst:
		if pos := e.Stack.Position(inst.Result.ID); pos >= 0 {
			return nil
		}
		lhs, rhs := inst.Lhs, inst.Rhs
		if inst.Commutative() {
			// If rhs is already on top, consume it first instead of lhs:
			// consuming lhs first would move it up, push rhs down, and
			// then require a second move to bring rhs back — a
			// commutative op doesn't care which operand is consumed
			// first, so swap roles to avoid that redundant move (spec §8
			// E6).
			if e.Stack.Len() > 0 && e.Stack.slots[0] == rhs.ID {
				lhs, rhs = rhs, lhs
			}
		}
		// lhs second from top, rhs on top: matches Miden's stack-order
		// convention for binary ops (top, second) = (rhs, lhs). consume
		// duplicates either operand instead of moving it when it has
		// further uses after this instruction — including a second use by
		// this very instruction, e.g. %c = lt %a, %a.
		if err := c.consume(e, tree, lhs); err != nil {
			return err
		}
		if err := c.consume(e, tree, rhs); err != nil {
			return err
		}
		e.BinaryOp(binOpcode(inst.Op), inst.Result.ID)
		return c.enforceBudget(e, nil)
	case *ir.LoadGlobalInst:
		if pos := e.Stack.Position(inst.Result.ID); pos >= 0 {
			return nil
		}
		addr := ir.ResolveAddress(c.globals, inst.Global)
		e.emit(masm.Op{Kind: masm.Push, Imm: int64(addr)})
		e.emit(masm.Op{Kind: masm.MemLoad})
		e.Stack.Push(inst.Result.ID)
		return c.enforceBudget(e, nil)
	case *ir.StoreGlobalInst:
		if err := c.consume(e, tree, inst.Value); err != nil {
			return err
		}
		addr := ir.ResolveAddress(c.globals, inst.Global)
		e.emit(masm.Op{Kind: masm.Push, Imm: int64(addr)})
		e.emit(masm.Op{Kind: masm.MemStore})
		e.Stack.Pop()
		return nil
	case *ir.CallInst:
		for i := len(inst.Args) - 1; i >= 0; i-- {
			if err := c.consume(e, tree, inst.Args[i]); err != nil {
				return err
			}
		}
		e.emit(masm.Op{Kind: masm.Exec, Callee: inst.Callee})
		for range inst.Args {
			e.Stack.Pop()
		}
		for _, r := range inst.Result {
			e.Stack.Push(r.ID)
		}
		return c.enforceBudget(e, nil)
	case *ir.AssertInst:
		if err := c.consume(e, tree, inst.Cond); err != nil {
			return err
		}
		e.emit(masm.Op{Kind: masm.Assert})
		e.Stack.Pop()
		return nil
	default:
		return errors.Errorf("stackify: unsupported instruction %T in block %s", n.Inst, c.f.Block(n.Inst.Block()))
	}
}

// ensureOperandEmitted emits v's producer if v is absorbed into the
// current tree and not yet resident; otherwise v must already be resident
// thanks to spill analysis (or is produced by a different, already
// scheduled tree).
func (c *ctx) ensureOperandEmitted(e *Emitter, tree *Tree, v *ir.Value) error {
	if e.Stack.Position(v.ID) >= 0 {
		return nil
	}
	if slot, spilled := c.slots[v.ID]; spilled {
		e.emit(masm.Op{Kind: masm.LocLoad, Index: slot})
		e.Stack.Push(v.ID)
		return c.enforceBudget(e, map[ir.ValueID]bool{v.ID: true})
	}
	if v.DefInst == nil {
		return errors.Errorf("stackify: value %s not resident and has no producer in this block", v)
	}
	dg, _ := c.blockGraphs(c.f.Block(v.DefBlock))
	for _, n := range dg.Nodes {
		if n.Inst == v.DefInst {
			return c.emitNode(e, tree, n)
		}
	}
	return errors.Errorf("stackify: could not locate producer for %s", v)
}

func binOpcode(op ir.BinOp) masm.OpKind {
	switch op {
	case ir.Add:
		return masm.OpAdd
	case ir.Sub:
		return masm.OpSub
	case ir.Mul:
		return masm.OpMul
	case ir.Div:
		return masm.OpDiv
	case ir.And:
		return masm.OpAnd
	case ir.Or:
		return masm.OpOr
	case ir.Xor:
		return masm.OpXor
	case ir.Eq:
		return masm.OpEq
	case ir.Lt:
		return masm.OpLt
	case ir.Gt:
		return masm.OpGt
	default:
		panic("stackify: unknown binary op")
	}
}
