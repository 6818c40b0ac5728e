package ir

import "github.com/pkg/errors"

// BuildCFG derives each block's Preds/Succs from its terminator's
// BranchInfo and validates that every function is well-formed enough for
// the analyses that follow: every block ends in a terminator, and every
// branch target argument list matches the target's parameter count.
//
// This is the one precondition check (spec §7, "pre-condition violations")
// that every other package in this backend relies on instead of
// re-validating the IR itself.
func BuildCFG(f *Function) error {
	for _, b := range f.Blocks {
		b.Preds = nil
		b.Succs = nil
	}
	for _, b := range f.Blocks {
		term := b.Terminator()
		if term == nil {
			return errors.Errorf("ir: block %s in function %q has no terminator", b, f.Name)
		}
		info := term.BranchInfo()
		for i, dest := range info.Dests {
			target := f.Block(dest)
			if len(info.Args[i]) != len(target.Params) {
				return errors.Errorf(
					"ir: branch from %s to %s supplies %d arguments, target has %d parameters",
					b, target, len(info.Args[i]), len(target.Params))
			}
			b.Succs = append(b.Succs, dest)
			target.Preds = append(target.Preds, b.ID)
		}
	}
	return nil
}

// PostOrder returns block IDs in postorder DFS from the entry block, the
// traversal order both the dominator-tree builder and liveness's backward
// fixpoint are defined over.
func PostOrder(f *Function) []BlockID {
	visited := make([]bool, len(f.Blocks))
	var order []BlockID
	var visit func(BlockID)
	visit = func(id BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, s := range f.Block(id).Succs {
			visit(s)
		}
		order = append(order, id)
	}
	visit(f.Entry)
	return order
}

// ReversePostOrder is PostOrder reversed: a forward traversal order in which
// every block appears after at least one of its predecessors (when the CFG
// is reducible).
func ReversePostOrder(f *Function) []BlockID {
	po := PostOrder(f)
	rpo := make([]BlockID, len(po))
	for i, b := range po {
		rpo[len(po)-1-i] = b
	}
	return rpo
}
