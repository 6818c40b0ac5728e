package ir

// DominatorTree is built with the iterative Cooper/Harvey/Kennedy algorithm
// ("A Simple, Fast Dominance Algorithm"), the same flat-slice-over-postorder
// shape used by the Go compiler's own SSA backend for the same problem.
type DominatorTree struct {
	f *Function

	idom     []BlockID // idom[b] is b's immediate dominator; idom[entry] == entry
	rpoIndex []int     // rpoIndex[b] is b's position in reverse postorder
	children [][]BlockID
}

const noBlock = BlockID(^uint32(0))

// BuildDominatorTree computes the dominator tree of f. BuildCFG must have
// already been called so that Preds/Succs are populated.
func BuildDominatorTree(f *Function) *DominatorTree {
	rpo := ReversePostOrder(f)
	rpoIndex := make([]int, len(f.Blocks))
	for i, b := range rpo {
		rpoIndex[b] = i
	}

	idom := make([]BlockID, len(f.Blocks))
	for i := range idom {
		idom[i] = noBlock
	}
	idom[f.Entry] = f.Entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for rpoIndex[a] > rpoIndex[b] {
				a = idom[a]
			}
			for rpoIndex[b] > rpoIndex[a] {
				b = idom[b]
			}
		}
		return a
	}

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == f.Entry {
				continue
			}
			var newIdom BlockID = noBlock
			for _, p := range f.Block(b).Preds {
				if idom[p] == noBlock {
					continue
				}
				if newIdom == noBlock {
					newIdom = p
				} else {
					newIdom = intersect(newIdom, p)
				}
			}
			if idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	children := make([][]BlockID, len(f.Blocks))
	for _, b := range rpo {
		if b == f.Entry {
			continue
		}
		children[idom[b]] = append(children[idom[b]], b)
	}

	return &DominatorTree{f: f, idom: idom, rpoIndex: rpoIndex, children: children}
}

// IDom returns b's immediate dominator. IDom(entry) == entry.
func (d *DominatorTree) IDom(b BlockID) BlockID { return d.idom[b] }

// Dominates reports whether a dominates b (reflexive: a dominates a).
func (d *DominatorTree) Dominates(a, b BlockID) bool {
	for b != a {
		if b == d.f.Entry && a != d.f.Entry {
			return false
		}
		if d.idom[b] == b {
			return false
		}
		b = d.idom[b]
	}
	return true
}

// Children returns the blocks whose immediate dominator is b.
func (d *DominatorTree) Children(b BlockID) []BlockID { return d.children[b] }

// CFGPostOrder returns blocks in the postorder the liveness fixpoint
// iterates over, derived from the same reverse-postorder numbering used to
// build the tree.
func (d *DominatorTree) CFGPostOrder() []BlockID {
	out := make([]BlockID, len(d.rpoIndex))
	for b, idx := range d.rpoIndex {
		out[len(out)-1-idx] = BlockID(b)
	}
	return out
}
