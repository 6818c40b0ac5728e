package ir

import "fmt"

// SplitCriticalEdges inserts a new forwarding block on every critical edge —
// an edge whose source has more than one successor and whose destination has
// more than one predecessor — so that later per-edge analyses (spill's
// computeEdge, spec §4.2 step 7) always have a block that belongs to exactly
// one edge to place edge-specific instructions in, without disturbing any
// other path through either endpoint.
//
// Preds/Succs must already be built (call BuildCFG first); callers must call
// BuildCFG again afterward to pick up the new blocks.
func SplitCriticalEdges(f *Function) {
	for _, b := range append([]*BasicBlock(nil), f.Blocks...) {
		if len(b.Preds) < 2 {
			continue
		}
		for _, predID := range append([]BlockID(nil), b.Preds...) {
			pred := f.Block(predID)
			if len(pred.Succs) < 2 {
				continue
			}
			splitEdge(f, pred, b.ID)
		}
	}
}

// splitEdge splits every arm of pred's branch that targets dest (normally
// just one, unless a degenerate branch targets the same block on both arms).
func splitEdge(f *Function, pred *BasicBlock, dest BlockID) {
	br, ok := pred.Terminator().(*BranchInst)
	if !ok {
		return
	}
	if br.TrueBlk == dest {
		br.TrueBlk = newForwardingBlock(f, dest, br.TrueArgs)
		br.TrueArgs = nil
	}
	if br.FalseBlk == dest {
		br.FalseBlk = newForwardingBlock(f, dest, br.FalseArgs)
		br.FalseArgs = nil
	}
}

// newForwardingBlock appends a block that does nothing but jump to dest with
// args, and returns its ID.
func newForwardingBlock(f *Function, dest BlockID, args []*Value) BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, &BasicBlock{
		ID:   id,
		Name: fmt.Sprintf("%s.edge%d", f.Block(dest), id),
		Instrs: []Instruction{&JumpInst{
			instBase: instBase{id: 0, block: id},
			Target:   dest,
			Args:     args,
		}},
	})
	return id
}
