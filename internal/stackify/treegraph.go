package stackify

import (
	"sort"

	"kanso/internal/ir"
)

// Tree is one condensed unit of a TreeGraph: a root node together with the
// dependency nodes fused into it because they have no other consumer.
type Tree struct {
	Root     *Node
	Absorbed map[*Node]bool
}

// TreeGraph condenses a DependencyGraph by fusing every node that has
// exactly one consumer into that consumer's tree, the way
// pass.rs's TreeGraph::from / toposort does: shared values (more than one
// consumer) stay as separate tree roots, reached by copying off the stack
// rather than recomputed (spec §4.3 "DependencyGraph ... condensing to a
// tree graph").
type TreeGraph struct {
	Trees    []*Tree
	treeOf   map[*Node]*Tree // node -> tree it belongs to (root or absorbed)
	Schedule []*Tree         // topological order, program-order tie-break, terminator last
}

// BuildTreeGraph condenses g and computes its schedule.
func BuildTreeGraph(g *DependencyGraph) *TreeGraph {
	tg := &TreeGraph{treeOf: make(map[*Node]*Tree)}

	roots := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if len(g.Consumers[n]) != 1 {
			roots = append(roots, n)
		}
	}

	var fuse func(root *Node, n *Node, tree *Tree)
	fuse = func(root *Node, n *Node, tree *Tree) {
		if tree.Absorbed[n] || n == tree.Root {
			return
		}
		tree.Absorbed[n] = true
		tg.treeOf[n] = tree
		for _, d := range g.Deps[n] {
			if len(g.Consumers[d]) == 1 {
				fuse(root, d, tree)
			}
		}
	}

	for _, r := range roots {
		tree := &Tree{Root: r, Absorbed: make(map[*Node]bool)}
		tg.treeOf[r] = tree
		for _, d := range g.Deps[r] {
			if len(g.Consumers[d]) == 1 {
				fuse(r, d, tree)
			}
		}
		tg.Trees = append(tg.Trees, tree)
	}

	tg.Schedule = topoSchedule(g, tg)
	return tg
}

// TreeOf returns the tree a (possibly absorbed) node belongs to.
func (tg *TreeGraph) TreeOf(n *Node) *Tree { return tg.treeOf[n] }

// topoSchedule orders trees so that every tree appears after the trees
// producing the shared (non-absorbed) values its root depends on,
// breaking ties by each root's original program position and placing the
// block's terminator tree last (spec §4.3 "Scheduling").
func topoSchedule(g *DependencyGraph, tg *TreeGraph) []*Tree {
	pos := make(map[*Node]int, len(g.Nodes))
	for i, n := range g.Nodes {
		pos[n] = i
	}

	// A tree depends on another tree if any node in it (root or absorbed)
	// has a dependency edge into a node belonging to that other tree.
	deps := make(map[*Tree]map[*Tree]bool)
	for _, tree := range tg.Trees {
		deps[tree] = make(map[*Tree]bool)
		members := append([]*Node{tree.Root}, keysOf(tree.Absorbed)...)
		for _, m := range members {
			for _, d := range g.Deps[m] {
				other := tg.treeOf[d]
				if other != nil && other != tree {
					deps[tree][other] = true
				}
			}
		}
	}

	order := append([]*Tree{}, tg.Trees...)
	sort.Slice(order, func(i, j int) bool { return pos[order[i].Root] < pos[order[j].Root] })

	visited := make(map[*Tree]bool)
	var out []*Tree
	var visit func(*Tree)
	visit = func(t *Tree) {
		if visited[t] {
			return
		}
		visited[t] = true
		depList := make([]*Tree, 0, len(deps[t]))
		for d := range deps[t] {
			depList = append(depList, d)
		}
		sort.Slice(depList, func(i, j int) bool { return pos[depList[i].Root] < pos[depList[j].Root] })
		for _, d := range depList {
			visit(d)
		}
		out = append(out, t)
	}
	for _, t := range order {
		visit(t)
	}

	// Terminator (the block's last instruction, if it produced a tree)
	// must schedule last.
	for i, t := range out {
		if t.Root.Kind == InstNode && isTerminatorNode(t.Root) && i != len(out)-1 {
			out = append(append(out[:i], out[i+1:]...), t)
			break
		}
	}
	return out
}

func isTerminatorNode(n *Node) bool {
	if n.Inst == nil {
		return false
	}
	_, ok := n.Inst.(ir.Terminator)
	return ok
}

func keysOf(m map[*Node]bool) []*Node {
	out := make([]*Node, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	return out
}
