package stackify

import (
	"github.com/pkg/errors"

	"kanso/internal/ir"
	"kanso/internal/masm"
)

// emitRegion emits block start and, inlining simple (single-successor,
// non-loop) control transfers, everything reachable from it, stopping
// when it reaches stopAt (a join block the caller will continue from
// itself) or a leaf (a return). Recovers while-loops and if/else from the
// unstructured CFG as it goes (spec §4.3, "recovering structured control
// flow").
func (c *ctx) emitRegion(e *Emitter, start ir.BlockID, stopAt ir.BlockID) error {
	cur := start
	for {
		if stopAt != noStop && cur == stopAt {
			return nil
		}

		if loop, isHeader := c.lf.ByHeader[cur]; isHeader && !c.visited[cur] {
			c.visited[cur] = true
			exit, err := c.emitLoop(e, loop)
			if err != nil {
				return err
			}
			cur = exit
			continue
		}

		b := c.f.Block(cur)
		term, err := c.emitStraightLine(e, b)
		if err != nil {
			return err
		}
		if term == nil {
			return errors.Errorf("stackify: block %s has no terminator tree in its schedule", b)
		}

		switch t := term.Inst.(type) {
		case *ir.RetInst:
			return c.emitReturn(e, t)

		case *ir.JumpInst:
			if err := c.transitionArgs(e, t.Target, t.Args); err != nil {
				return err
			}
			cur = t.Target
			continue

		case *ir.BranchInst:
			next, terminal, err := c.emitBranch(e, t, stopAt)
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
			cur = next
			continue

		default:
			return errors.Errorf("stackify: unsupported terminator %T in block %s", t, b)
		}
	}
}

// emitLoop emits loop as a while.true body, starting from its header, and
// returns the block the loop structurally exits to.
func (c *ctx) emitLoop(e *Emitter, loop *ir.Loop) (ir.BlockID, error) {
	header := c.f.Block(loop.Header)
	body := &Emitter{Stack: e.Stack}

	term, err := c.emitStraightLine(body, header)
	if err != nil {
		return noStop, err
	}
	branch, ok := term.Inst.(*ir.BranchInst)
	if !ok {
		return noStop, errors.Errorf("stackify: loop header %s must end in a conditional branch", header)
	}

	var contBlk, exitBlk ir.BlockID
	var contArgs, exitArgs []*ir.Value
	if loop.Contains(branch.TrueBlk) {
		contBlk, contArgs = branch.TrueBlk, branch.TrueArgs
		exitBlk, exitArgs = branch.FalseBlk, branch.FalseArgs
	} else {
		contBlk, contArgs = branch.FalseBlk, branch.FalseArgs
		exitBlk, exitArgs = branch.TrueBlk, branch.TrueArgs
	}

	if err := c.consume(body, nil, branch.Cond); err != nil {
		return noStop, err
	}
	body.Stack.Pop() // consumed by the while.true test

	if err := c.transitionArgs(body, contBlk, contArgs); err != nil {
		return noStop, err
	}
	if err := c.emitRegion(body, contBlk, loop.Header); err != nil {
		return noStop, err
	}
	body.emit(masm.Op{Kind: masm.Push, Imm: 1}) // loop continues

	e.emit(masm.Op{Kind: masm.While, Body: body.Ops})

	if err := c.transitionArgs(e, exitBlk, exitArgs); err != nil {
		return noStop, err
	}
	return exitBlk, nil
}

// emitBranch emits a plain (non-loop) two-way conditional branch as a
// nested if/else. If the two arms reconverge at a detectable join block,
// it returns that block so the caller continues from there (terminal =
// false); otherwise both arms are assumed to exit on their own (e.g. via
// return) and terminal is true.
func (c *ctx) emitBranch(e *Emitter, branch *ir.BranchInst, stopAt ir.BlockID) (ir.BlockID, bool, error) {
	if err := c.consume(e, nil, branch.Cond); err != nil {
		return noStop, false, err
	}
	e.Stack.Pop()

	join, found := c.findJoin(branch.TrueBlk, branch.FalseBlk)
	armStop := stopAt
	if found {
		armStop = join
	}

	thenE := &Emitter{Stack: cloneStack(e.Stack)}
	if err := c.transitionArgs(thenE, branch.TrueBlk, branch.TrueArgs); err != nil {
		return noStop, false, err
	}
	if err := c.emitRegion(thenE, branch.TrueBlk, armStop); err != nil {
		return noStop, false, err
	}

	elseE := &Emitter{Stack: cloneStack(e.Stack)}
	if err := c.transitionArgs(elseE, branch.FalseBlk, branch.FalseArgs); err != nil {
		return noStop, false, err
	}
	if err := c.emitRegion(elseE, branch.FalseBlk, armStop); err != nil {
		return noStop, false, err
	}

	e.emit(masm.Op{Kind: masm.If, Then: thenE.Ops, Else: elseE.Ops})

	if !found {
		return noStop, true, nil
	}
	e.Stack = thenE.Stack
	return join, false, nil
}

// emitReturn brings the return value (if any) to the top, drops anything
// else still resident, and ends the region.
func (c *ctx) emitReturn(e *Emitter, ret *ir.RetInst) error {
	keep := map[ir.ValueID]bool{}
	if ret.Value != nil {
		if err := c.consume(e, nil, ret.Value); err != nil {
			return err
		}
		keep[ret.Value.ID] = true
	}
	return e.DropUnusedOperandsAfter(keep)
}

// transitionArgs aligns args onto the stack in the order target's
// parameters expect, drops anything else, and renames the resulting top
// positions to target's parameter value IDs (spec §4.3, successor-argument
// alignment; mirrors pass.rs's stack.rename on block entry).
func (c *ctx) transitionArgs(e *Emitter, target ir.BlockID, args []*ir.Value) error {
	targetBlk := c.f.Block(target)
	ids := make([]ir.ValueID, len(args))
	keep := make(map[ir.ValueID]bool, len(args))
	for i, a := range args {
		ids[i] = a.ID
		keep[a.ID] = true
	}
	if err := e.DropUnusedOperandsAfter(keep); err != nil {
		return err
	}
	// Enforce the budget before arranging args at the top: afterward, the
	// exact-position Rename below depends on args sitting undisturbed at
	// positions 0..len(ids)-1, and an eviction's MoveToTop would shift
	// those positions out from under it.
	if err := c.enforceBudget(e, keep); err != nil {
		return err
	}
	e.PrepareStackArguments(ids)
	for i, p := range targetBlk.Params {
		e.Stack.Rename(i, p.ID)
	}
	return nil
}

// findJoin looks for a block reachable from both a and b by following
// single-successor chains, the shape an if/else produced from structured
// source control flow reconverges at. Returns found=false for CFGs this
// simplified search can't resolve (e.g. both arms return independently).
func (c *ctx) findJoin(a, b ir.BlockID) (ir.BlockID, bool) {
	chain := func(start ir.BlockID) []ir.BlockID {
		seen := make(map[ir.BlockID]bool)
		cur := start
		var out []ir.BlockID
		for i := 0; i <= len(c.f.Blocks); i++ {
			if seen[cur] {
				break
			}
			seen[cur] = true
			out = append(out, cur)
			blk := c.f.Block(cur)
			if len(blk.Succs) != 1 {
				break
			}
			cur = blk.Succs[0]
		}
		return out
	}

	chainA := chain(a)
	setA := make(map[ir.BlockID]bool, len(chainA))
	for _, x := range chainA {
		setA[x] = true
	}
	for _, x := range chain(b) {
		if setA[x] {
			return x, true
		}
	}
	return noStop, false
}

func cloneStack(s *OperandStack) *OperandStack {
	return &OperandStack{slots: append([]ir.ValueID{}, s.slots...)}
}
