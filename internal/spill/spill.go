// Package spill places spills and reloads so that no program point needs
// more than K live operand-stack slots, per spec §4.2 (the MIN algorithm).
// Grounded on original_source/hir-analysis/src/spill.rs.
package spill

import (
	"sort"

	"github.com/pkg/errors"

	"kanso/internal/ir"
	"kanso/internal/liveness"
)

// K is the maximum number of operands the backend keeps resident on the
// operand stack at once.
const K = 16

// Operand identifies one live value as a spill candidate: its size in
// stack slots, and (if it is a reload of a previously spilled value) the
// original value it aliases.
type Operand struct {
	Value ir.ValueID
	Alias ir.ValueID // equal to Value unless this operand is a reload
	Size  int
}

// InsertionPoint names a concrete place in a function to insert a spill or
// reload: immediately before a given instruction within a block.
type InsertionPoint struct {
	Block ir.BlockID
	Index int // index into Block.Instrs; len(Instrs) means "at the end"
}

// SpillInfo records one spill: a value written out because it no longer
// fits in the K resident slots.
type SpillInfo struct {
	Place InsertionPoint
	Value ir.ValueID
}

// ReloadInfo records one reload: a previously spilled value brought back
// onto the operand stack ahead of a use.
type ReloadInfo struct {
	Place InsertionPoint
	Value ir.ValueID
}

// Analysis is the full output of spill placement for one function.
type Analysis struct {
	Spills  []SpillInfo
	Reloads []ReloadInfo
	Spilled map[ir.ValueID]bool

	// WEntry/WExit/SExit are the resident-operand and spilled-value sets
	// computed at each block's entry/exit, consumed directly by stackify
	// to seed its per-block OperandStack.
	WEntry map[ir.BlockID]map[ir.ValueID]Operand
	WExit  map[ir.BlockID]map[ir.ValueID]Operand
	SExit  map[ir.BlockID]map[ir.ValueID]bool
}

func sizeOf(v *ir.Value) int { return v.Type.Size() }

func newOperand(v *ir.Value) Operand {
	return Operand{Value: v.ID, Alias: v.ID, Size: sizeOf(v)}
}

// Compute runs the two-pass MIN-algorithm spill placement over f (spec
// §4.2). liv must already have been computed over f, dt, lf.
func Compute(f *ir.Function, dt *ir.DominatorTree, lf *ir.LoopForest, liv *liveness.Analysis) (*Analysis, error) {
	c := &computer{
		f: f, dt: dt, lf: lf, liv: liv,
		a: &Analysis{
			Spilled: make(map[ir.ValueID]bool),
			WEntry:  make(map[ir.BlockID]map[ir.ValueID]Operand),
			WExit:   make(map[ir.BlockID]map[ir.ValueID]Operand),
			SExit:   make(map[ir.BlockID]map[ir.ValueID]bool),
		},
		valueByID: make(map[ir.ValueID]*ir.Value),
	}
	c.indexValues()

	order := dt.CFGPostOrder()
	rpo := make([]ir.BlockID, len(order))
	for i, b := range order {
		rpo[len(rpo)-1-i] = b
	}

	var deferred [][2]ir.BlockID // (block, predecessor) pairs deferred past a back edge
	for _, b := range rpo {
		if err := c.computeBlockEntry(b); err != nil {
			return nil, err
		}
		if err := c.computeBlockBody(b); err != nil {
			return nil, err
		}
	}
	for _, b := range rpo {
		for _, p := range f.Block(b).Preds {
			if c.isBackEdge(p, b) {
				deferred = append(deferred, [2]ir.BlockID{b, p})
				continue
			}
			c.computeEdge(b, p)
		}
	}
	for _, pair := range deferred {
		c.computeEdge(pair[0], pair[1])
	}

	return c.a, nil
}

type computer struct {
	f   *ir.Function
	dt  *ir.DominatorTree
	lf  *ir.LoopForest
	liv *liveness.Analysis
	a   *Analysis

	valueByID map[ir.ValueID]*ir.Value
}

func (c *computer) indexValues() {
	for _, b := range c.f.Blocks {
		for _, p := range b.Params {
			c.valueByID[p.ID] = p
		}
		for _, inst := range b.Instrs {
			for _, r := range inst.Results() {
				c.valueByID[r.ID] = r
			}
		}
	}
}

func (c *computer) isBackEdge(from, to ir.BlockID) bool {
	return c.dt.Dominates(to, from)
}

// computeBlockEntry fills WEntry[b] using the normal or loop-header
// variant, per spec §4.2 step 2.
func (c *computer) computeBlockEntry(b ir.BlockID) error {
	blk := c.f.Block(b)
	loop := c.lf.ByHeader[b]
	liveIn := c.liv.LiveIn[b]

	type cand struct {
		op Operand
		d  uint32
	}

	if loop == nil || b == c.f.Entry {
		// Normal variant: seed with block params, then fill with
		// predecessor-W_exit-intersection "guaranteed" candidates, then
		// the rest ranked by (next-use ascending, size ascending).
		resident := make(map[ir.ValueID]Operand)
		var candidates []cand
		for _, p := range blk.Params {
			if !liveIn.IsLive(p.ID) && b != c.f.Entry {
				continue
			}
			resident[p.ID] = newOperand(p)
		}
		guaranteed := c.intersectPredWExit(b)
		for id, op := range guaranteed {
			if len(resident) >= K {
				break
			}
			if _, ok := resident[id]; !ok {
				resident[id] = op
			}
		}
		for id := range liveIn {
			if _, ok := resident[id]; ok {
				continue
			}
			v := c.valueByID[id]
			if v == nil {
				continue
			}
			candidates = append(candidates, cand{op: newOperand(v), d: liveIn.Distance(id)})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].d != candidates[j].d {
				return candidates[i].d < candidates[j].d
			}
			return candidates[i].op.Size < candidates[j].op.Size
		})
		for _, cd := range candidates {
			if len(resident) >= K {
				break
			}
			resident[cd.op.Value] = cd.op
		}
		c.a.WEntry[b] = resident
		return nil
	}

	// Loop-header variant: params always resident; remaining budget split
	// between in-loop-body candidates and live-through values, weighed
	// against the loop's max body pressure (SPEC_FULL §4).
	resident := make(map[ir.ValueID]Operand)
	for _, p := range blk.Params {
		resident[p.ID] = newOperand(p)
	}
	maxLoopPressure := c.liv.MaxLoopPressure(loop)
	budget := K - maxLoopPressure
	if budget < 0 {
		budget = 0
	}

	var inBody, liveThrough []cand
	for id := range liveIn {
		if _, ok := resident[id]; ok {
			continue
		}
		v := c.valueByID[id]
		if v == nil {
			continue
		}
		d := liveIn.Distance(id)
		cd := cand{op: newOperand(v), d: d}
		if d < liveness.LoopExitDistance {
			inBody = append(inBody, cd)
		} else {
			liveThrough = append(liveThrough, cd)
		}
	}
	byDist := func(s []cand) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].d != s[j].d {
				return s[i].d < s[j].d
			}
			return s[i].op.Size < s[j].op.Size
		})
	}
	byDist(inBody)
	byDist(liveThrough)
	for _, cd := range inBody {
		if len(resident) >= K {
			break
		}
		resident[cd.op.Value] = cd.op
	}
	for _, cd := range liveThrough {
		if len(resident) >= K || len(resident) >= budget+len(blk.Params) {
			break
		}
		resident[cd.op.Value] = cd.op
	}
	c.a.WEntry[b] = resident
	return nil
}

func (c *computer) intersectPredWExit(b ir.BlockID) map[ir.ValueID]Operand {
	preds := c.f.Block(b).Preds
	out := make(map[ir.ValueID]Operand)
	first := true
	for _, p := range preds {
		exit, ok := c.a.WExit[p]
		if !ok {
			continue // predecessor not processed yet (back edge); handled on edge pass
		}
		if first {
			for id, op := range exit {
				out[id] = op
			}
			first = false
			continue
		}
		for id := range out {
			if _, ok := exit[id]; !ok {
				delete(out, id)
			}
		}
	}
	if first {
		return map[ir.ValueID]Operand{}
	}
	return out
}

// computeBlockBody runs the per-instruction MIN algorithm over b's
// instructions, producing WExit[b]/SExit[b] and appending spills/reloads.
func (c *computer) computeBlockBody(b ir.BlockID) error {
	blk := c.f.Block(b)
	w := cloneOperands(c.a.WEntry[b])
	s := make(map[ir.ValueID]bool)

	liveIn := c.liv.LiveIn[b]
	running := liveIn.Clone()
	pos := 0
	_ = pos

	for idx, inst := range blk.Instrs {
		isTerm := idx == len(blk.Instrs)-1
		liveAfter := c.liveAfterInstruction(b, idx)

		if err := c.minAtInstruction(b, idx, inst, isTerm, w, s, liveAfter); err != nil {
			return err
		}
	}

	c.a.WExit[b] = w
	sCopy := make(map[ir.ValueID]bool, len(s))
	for k, v := range s {
		sCopy[k] = v
	}
	c.a.SExit[b] = sCopy
	_ = running
	return nil
}

// liveAfterInstruction returns the next-use set as it stands immediately
// after executing instruction idx in block b (liveness.Analysis only
// stores block-granular sets, so this re-derives the point-in-block view
// by re-running the same backward scan restricted to a suffix).
func (c *computer) liveAfterInstruction(b ir.BlockID, idx int) liveness.NextUseSet {
	blk := c.f.Block(b)
	cur := c.liv.LiveOut[b].Clone()
	for i := len(blk.Instrs) - 1; i > idx; i-- {
		inst := blk.Instrs[i]
		bumped := liveness.NewNextUseSet()
		for v, d := range cur {
			bumped.Insert(v, d+1)
		}
		cur = bumped
		for _, r := range inst.Results() {
			delete(cur, r.ID)
		}
		// Operands become live at the instruction's own program point (spec
		// §4.1 step 2: "add its operands with distance 0"), not one past it.
		for _, o := range inst.Operands() {
			cur.Insert(o.ID, 0)
		}
	}
	return cur
}

func cloneOperands(m map[ir.ValueID]Operand) map[ir.ValueID]Operand {
	out := make(map[ir.ValueID]Operand, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// minAtInstruction implements the MIN algorithm (spec §4.2 step 4) for one
// instruction: ensure its operands are resident (emitting reloads as
// needed), spill down to K before execution, execute (remove dead
// operands, add results), spill down to K again after.
func (c *computer) minAtInstruction(
	b ir.BlockID, idx int, inst ir.Instruction, isTerm bool,
	w map[ir.ValueID]Operand, s map[ir.ValueID]bool, liveAfter liveness.NextUseSet,
) error {
	// Reload any operand not currently resident.
	for _, op := range inst.Operands() {
		if _, resident := w[op.ID]; resident {
			continue
		}
		if !s[op.ID] {
			return errors.Errorf(
				"spill: value %s used in block %s at instruction %d is neither resident nor spilled",
				op, c.f.Block(b), idx)
		}
		c.a.Reloads = append(c.a.Reloads, ReloadInfo{
			Place: InsertionPoint{Block: b, Index: idx},
			Value: op.ID,
		})
		w[op.ID] = newOperand(op)
	}

	// First pass: free room for the operands themselves before execution.
	usage := usageSize(w)
	opSet := make(map[ir.ValueID]bool, len(inst.Operands()))
	for _, op := range inst.Operands() {
		opSet[op.ID] = true
	}
	c.spillDown(b, idx, w, s, usage, opSet, liveAfter, usage-K)

	for _, r := range inst.Results() {
		delete(w, r.ID)
	}
	for id := range w {
		if !liveAfter.IsLive(id) {
			delete(w, id)
		}
	}
	for _, r := range inst.Results() {
		w[r.ID] = newOperand(r)
	}

	// Second pass: free room after adding results.
	usage = usageSize(w)
	c.spillDown(b, idx+1, w, s, usage, nil, liveAfter, usage-K)

	return nil
}

func usageSize(w map[ir.ValueID]Operand) int {
	total := 0
	for _, op := range w {
		total += op.Size
	}
	return total
}

// spillDown removes candidates from w (recording SpillInfo, marking s)
// until usage has dropped by at least need slots. Candidates are ranked by
// greatest next-use distance first, then greatest size, excluding protect.
func (c *computer) spillDown(
	b ir.BlockID, idx int, w map[ir.ValueID]Operand, s map[ir.ValueID]bool,
	usage int, protect map[ir.ValueID]bool, liveAfter liveness.NextUseSet, need int,
) {
	if need <= 0 {
		return
	}
	type cand struct {
		id ir.ValueID
		op Operand
		d  uint32
	}
	var candidates []cand
	for id, op := range w {
		if protect[id] {
			continue
		}
		candidates = append(candidates, cand{id: id, op: op, d: liveAfter.Distance(id)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].d != candidates[j].d {
			return candidates[i].d > candidates[j].d
		}
		return candidates[i].op.Size > candidates[j].op.Size
	})
	freed := 0
	for _, cd := range candidates {
		if freed >= need {
			break
		}
		if s[cd.id] {
			// already spilled earlier; dropping from W frees space with
			// no new spill instruction needed.
			delete(w, cd.id)
			freed += cd.op.Size
			continue
		}
		c.a.Spills = append(c.a.Spills, SpillInfo{
			Place: InsertionPoint{Block: b, Index: idx},
			Value: cd.id,
		})
		c.a.Spilled[cd.id] = true
		s[cd.id] = true
		delete(w, cd.id)
		freed += cd.op.Size
	}
}

// computeEdge computes the spills/reloads needed on the edge pred->b so
// that WEntry[b]/SEntry[b] (implicit: resident ⊆ W, spilled ⊆ S) hold
// given WExit[pred]/SExit[pred] (spec §4.2 step 7).
func (c *computer) computeEdge(b, pred ir.BlockID) {
	wEntry := c.a.WEntry[b]
	wExit, ok := c.a.WExit[pred]
	if !ok {
		return
	}
	sExit := c.a.SExit[pred]

	var toReload, toSpill []ir.ValueID
	for id := range wEntry {
		if _, ok := wExit[id]; !ok {
			toReload = append(toReload, id)
		}
	}
	// A value resident at pred's exit but not needed at b's entry is being
	// dropped on this edge. If it has no memory slot yet, give it one now:
	// some other path out of pred (or a later reload on a different
	// successor edge) may still need it, and a value already in sExit
	// already has a valid, still-coherent memory copy from an earlier
	// spill, so re-spilling it here would just be a redundant instruction.
	for id := range wExit {
		if _, stillResident := wEntry[id]; stillResident {
			continue
		}
		if sExit[id] {
			continue
		}
		toSpill = append(toSpill, id)
	}

	if len(toReload) == 0 && len(toSpill) == 0 {
		return
	}

	// ir.SplitCriticalEdges has already run (spec §4.2 step 7 depends on
	// it): pred and b can never simultaneously have multiple successors and
	// multiple predecessors on this edge, so exactly one of the two
	// placements below is always edge-safe. If pred has a single successor,
	// inserting before its terminator only affects this edge. Otherwise b
	// has a single predecessor (this one), so inserting at its start is
	// equally edge-exclusive.
	insertAt := InsertionPoint{Block: pred, Index: len(c.f.Block(pred).Instrs) - 1}
	if len(c.f.Block(pred).Succs) > 1 {
		if len(c.f.Block(b).Preds) > 1 {
			panic("spill: computeEdge found a critical edge that was not split")
		}
		insertAt = InsertionPoint{Block: b, Index: 0}
	}

	sort.Slice(toSpill, func(i, j int) bool { return toSpill[i] < toSpill[j] })
	sort.Slice(toReload, func(i, j int) bool { return toReload[i] < toReload[j] })

	for _, id := range toSpill {
		c.a.Spills = append(c.a.Spills, SpillInfo{Place: insertAt, Value: id})
		c.a.Spilled[id] = true
	}
	for _, id := range toReload {
		c.a.Reloads = append(c.a.Reloads, ReloadInfo{Place: insertAt, Value: id})
	}
}
