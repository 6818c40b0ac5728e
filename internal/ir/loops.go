package ir

// Loop is a natural loop: a single-entry header block and the set of blocks
// reachable from the header without leaving the loop via a back edge into
// it. Nested loops share their header with the enclosing loop's body blocks
// where applicable.
type Loop struct {
	Header BlockID
	Body   map[BlockID]bool
	Level  int // 1 for an outermost loop, incrementing per nesting level
	Parent *Loop
}

func (l *Loop) Contains(b BlockID) bool { return l.Body[b] }

// LoopForest is the set of natural loops in a function, keyed by header
// block, plus a per-block lookup of the innermost enclosing loop.
type LoopForest struct {
	ByHeader map[BlockID]*Loop
	innermost []*Loop // indexed by BlockID
}

// InnermostLoop returns the innermost loop containing b, or nil if b is not
// in any loop.
func (lf *LoopForest) InnermostLoop(b BlockID) *Loop {
	return lf.innermost[b]
}

// IsChildLoop reports whether inner is the same loop as, or nested inside,
// outer. Used by liveness (§4.1) to decide whether a branch exits a loop
// (edge weight LOOP_EXIT_DISTANCE) or stays within it (edge weight 1).
func IsChildLoop(inner, outer *Loop) bool {
	for l := inner; l != nil; l = l.Parent {
		if l == outer {
			return true
		}
	}
	return false
}

// BuildLoopForest finds natural loops via back edges (edges a -> h where h
// dominates a, per dt) and nests loops that share blocks, mirroring the
// dominator-based loop discovery in the Go compiler's own SSA backend.
func BuildLoopForest(f *Function, dt *DominatorTree) *LoopForest {
	lf := &LoopForest{
		ByHeader:  make(map[BlockID]*Loop),
		innermost: make([]*Loop, len(f.Blocks)),
	}

	// Collect back edges per header, merging bodies for headers discovered
	// from multiple back edges (shared-header natural loops).
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			if !dt.Dominates(s, b.ID) {
				continue
			}
			loop, ok := lf.ByHeader[s]
			if !ok {
				loop = &Loop{Header: s, Body: map[BlockID]bool{s: true}}
				lf.ByHeader[s] = loop
			}
			addLoopBody(f, loop, b.ID)
		}
	}

	// Assign nesting levels and parents: a loop L1 nests inside L2 when
	// L2's body is a strict superset of L1's body and L2's header is in
	// L1's body (L2 encloses L1's header) or vice versa by dominance.
	headers := make([]*Loop, 0, len(lf.ByHeader))
	for _, l := range lf.ByHeader {
		headers = append(headers, l)
	}
	for _, l := range headers {
		l.Level = 1
		l.Parent = nil
		for _, other := range headers {
			if other == l {
				continue
			}
			if other.Body[l.Header] && len(other.Body) > len(l.Body) {
				if l.Parent == nil || len(other.Body) < len(l.Parent.Body) {
					l.Parent = other
				}
			}
		}
	}
	for _, l := range headers {
		depth := 1
		for p := l.Parent; p != nil; p = p.Parent {
			depth++
		}
		l.Level = depth
	}

	// innermost[b] = loop with b in its body and the smallest body (the
	// most deeply nested one containing b).
	for b := range f.Blocks {
		var best *Loop
		for _, l := range headers {
			if !l.Body[BlockID(b)] {
				continue
			}
			if best == nil || len(l.Body) < len(best.Body) {
				best = l
			}
		}
		lf.innermost[b] = best
	}

	return lf
}

// addLoopBody walks predecessors backward from tail (inclusive) adding
// every reachable block to loop's body without crossing the header.
func addLoopBody(f *Function, loop *Loop, tail BlockID) {
	if loop.Body[tail] {
		return
	}
	loop.Body[tail] = true
	for _, p := range f.Block(tail).Preds {
		addLoopBody(f, loop, p)
	}
}
