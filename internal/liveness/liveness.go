package liveness

import (
	"github.com/pkg/errors"

	"kanso/internal/ir"
)

// BlockInfo carries the per-block results liveness derives beyond the raw
// next-use sets: how much pressure the simultaneously-live values at the
// worst point in the block put on each resource.
type BlockInfo struct {
	// MaxOperandStackPressure is the largest sum of live values' stack
	// footprints (1 felt for a scalar, 4 for a word) at any point in the
	// block, the quantity spill analysis (§4.2) budgets against K: a
	// resident set of word-sized values can exceed K slots long before it
	// exceeds K values.
	MaxOperandStackPressure int
	// MaxRegisterPressure is the largest count of simultaneously live
	// values at any point in the block, regardless of their individual
	// size.
	MaxRegisterPressure int
}

// Analysis is the result of Compute: per-block live-in/live-out next-use
// sets and per-block pressure.
type Analysis struct {
	LiveIn  map[ir.BlockID]NextUseSet
	LiveOut map[ir.BlockID]NextUseSet
	Blocks  map[ir.BlockID]*BlockInfo
}

// ChromaticNumber is the function-wide maximum simultaneous live-value
// count (SPEC_FULL §4, "supplemented features"). No other package calls
// it.
func (a *Analysis) ChromaticNumber() int {
	max := 0
	for _, b := range a.Blocks {
		if b.MaxRegisterPressure > max {
			max = b.MaxRegisterPressure
		}
	}
	return max
}

// MaxLoopPressure returns the maximum MaxOperandStackPressure over every
// block belonging to loop, used by spill's loop-header W-entry computation
// (SPEC_FULL §4).
func (a *Analysis) MaxLoopPressure(loop *ir.Loop) int {
	max := 0
	for b := range loop.Body {
		if info, ok := a.Blocks[b]; ok && info.MaxOperandStackPressure > max {
			max = info.MaxOperandStackPressure
		}
	}
	return max
}

const maxFixpointIterationsPerBlock = 8

// Compute runs the backward next-use dataflow fixpoint over f (spec §4.1).
// dt and lf must already be built over f. Returns an error wrapping an
// analysis-saturation condition (spec §7) if the fixpoint fails to
// converge within a generous iteration budget — this indicates a cyclic
// dependency the dataflow cannot resolve, not a normal outcome.
func Compute(f *ir.Function, dt *ir.DominatorTree, lf *ir.LoopForest) (*Analysis, error) {
	a := &Analysis{
		LiveIn:  make(map[ir.BlockID]NextUseSet),
		LiveOut: make(map[ir.BlockID]NextUseSet),
		Blocks:  make(map[ir.BlockID]*BlockInfo),
	}
	for _, b := range f.Blocks {
		a.LiveIn[b.ID] = NewNextUseSet()
		a.LiveOut[b.ID] = NewNextUseSet()
		a.Blocks[b.ID] = &BlockInfo{}
	}

	sizeOf := valueSizes(f)

	order := dt.CFGPostOrder()
	budget := len(f.Blocks)*maxFixpointIterationsPerBlock + 16

	for iter := 0; ; iter++ {
		if iter > budget {
			return nil, errors.Errorf(
				"liveness: fixpoint failed to converge for function %q after %d iterations", f.Name, iter)
		}
		changed := false
		for _, id := range order {
			b := f.Block(id)
			liveOut := liveOutFromSuccessors(f, b, a, lf)
			liveIn, stackPressure, regPressure := scanBlockBackward(b, liveOut, sizeOf)

			if !equalSets(liveIn, a.LiveIn[id]) {
				changed = true
			}
			a.LiveIn[id] = liveIn
			a.LiveOut[id] = liveOut
			a.Blocks[id].MaxOperandStackPressure = stackPressure
			a.Blocks[id].MaxRegisterPressure = regPressure
		}
		if !changed {
			break
		}
	}

	return a, nil
}

// valueSizes maps every value defined in f to its type's stack footprint
// (spec §4.1 step 3: operand-stack pressure sums these, unlike register
// pressure which just counts live values).
func valueSizes(f *ir.Function) map[ir.ValueID]int {
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

// liveOutFromSuccessors computes the live-out set of b by mapping each
// successor's live-in parameters back through the branch arguments that
// supply them, weighting the distance by LoopExitDistance when the edge
// leaves b's innermost loop (spec §4.1, "flow across loop exits").
func liveOutFromSuccessors(f *ir.Function, b *ir.BasicBlock, a *Analysis, lf *ir.LoopForest) NextUseSet {
	out := NewNextUseSet()
	term := b.Terminator()
	if term == nil {
		return out
	}
	info := term.BranchInfo()
	currentLoop := lf.InnermostLoop(b.ID)

	for i, dest := range info.Dests {
		target := f.Block(dest)
		weight := uint32(1)
		if currentLoop != nil {
			destLoop := lf.InnermostLoop(dest)
			if destLoop == nil || !ir.IsChildLoop(destLoop, currentLoop) {
				weight = LoopExitDistance
			}
		}
		args := info.Args[i]
		destLiveIn := a.LiveIn[dest]
		for p, param := range target.Params {
			if d, ok := destLiveIn[param.ID]; ok {
				out.Insert(args[p].ID, d+weight)
			}
		}
	}
	return out
}

// scanBlockBackward walks b's instructions in reverse starting from
// liveOut, returning the resulting live-in set, the largest operand-stack
// pressure (sum of live values' stack footprints, spec §4.1 step 3), and
// the largest register pressure (count of live values) observed at any
// point in the block.
func scanBlockBackward(b *ir.BasicBlock, liveOut NextUseSet, sizeOf map[ir.ValueID]int) (NextUseSet, int, int) {
	cur := liveOut.Clone()
	maxStackPressure := stackFootprint(cur, sizeOf)
	maxRegPressure := cur.Len()

	for i := len(b.Instrs) - 1; i >= 0; i-- {
		inst := b.Instrs[i]

		bumped := NewNextUseSet()
		for v, d := range cur {
			nd := d + 1
			if d >= LoopExitDistance {
				nd = d // loop-exit distances don't grow further; they already dominate ranking
			}
			bumped.Insert(v, nd)
		}
		cur = bumped

		for _, r := range inst.Results() {
			delete(cur, r.ID)
		}
		// Operands become live at this instruction's own program point
		// (spec §4.1 step 2: "add its operands with distance 0"), not one
		// past it.
		for _, o := range inst.Operands() {
			cur.Insert(o.ID, 0)
		}

		if sp := stackFootprint(cur, sizeOf); sp > maxStackPressure {
			maxStackPressure = sp
		}
		if cur.Len() > maxRegPressure {
			maxRegPressure = cur.Len()
		}
	}

	return cur, maxStackPressure, maxRegPressure
}

// stackFootprint sums the stack-slot footprint of every value live in s.
func stackFootprint(s NextUseSet, sizeOf map[ir.ValueID]int) int {
	total := 0
	for v := range s {
		total += sizeOf[v]
	}
	return total
}

func equalSets(a, b NextUseSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
