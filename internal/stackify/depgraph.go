package stackify

import "kanso/internal/ir"

// NodeKind distinguishes an instruction node from a stack-sink node in a
// DependencyGraph (spec §3 "DependencyGraph").
type NodeKind int

const (
	InstNode NodeKind = iota
	StackNode
)

// Node is one node of a block's dependency graph: either a concrete
// instruction, or a sink representing a value that must remain on the
// stack at the end of the block (because a successor needs it).
type Node struct {
	Kind  NodeKind
	Inst  ir.Instruction // set for InstNode
	Value *ir.Value      // set for StackNode, and for InstNode's single tracked result
}

// DependencyGraph is one block's instructions and stack-exit values, with
// edges from each node to the producers of the values it consumes.
type DependencyGraph struct {
	Block     ir.BlockID
	Nodes     []*Node
	Deps      map[*Node][]*Node
	Consumers map[*Node][]*Node
}

func isPure(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.ConstInst, *ir.BinaryInst, *ir.LoadGlobalInst:
		return true
	default:
		return false
	}
}

// BuildDependencyGraph constructs the dependency graph for block b. liveOut
// is the next-use set live out of b (from liveness.Analysis.LiveOut),
// identifying which block-local values need a stack-sink node.
func BuildDependencyGraph(f *ir.Function, b *ir.BasicBlock, liveOut map[ir.ValueID]uint32) *DependencyGraph {
	g := &DependencyGraph{
		Block:     b.ID,
		Deps:      make(map[*Node][]*Node),
		Consumers: make(map[*Node][]*Node),
	}

	producer := make(map[ir.ValueID]*Node)
	nodeByInst := make(map[ir.Instruction]*Node)

	for _, inst := range b.Instrs {
		n := &Node{Kind: InstNode, Inst: inst}
		if results := inst.Results(); len(results) > 0 {
			n.Value = results[0]
		}
		g.Nodes = append(g.Nodes, n)
		nodeByInst[inst] = n
		for _, r := range inst.Results() {
			producer[r.ID] = n
		}
	}

	addEdge := func(from, to *Node) {
		g.Deps[from] = append(g.Deps[from], to)
		g.Consumers[to] = append(g.Consumers[to], from)
	}

	for _, inst := range b.Instrs {
		n := nodeByInst[inst]
		for _, op := range inst.Operands() {
			if p, ok := producer[op.ID]; ok {
				addEdge(n, p)
			}
		}
	}

	// Dead code elimination: a pure instruction whose result is consumed
	// by nothing (not another instruction, not live-out) contributes
	// nothing to the schedule.
	live := make(map[*Node]bool)
	var mark func(*Node)
	mark = func(n *Node) {
		if live[n] {
			return
		}
		live[n] = true
		for _, d := range g.Deps[n] {
			mark(d)
		}
	}
	for _, n := range g.Nodes {
		if !isPure(n.Inst) {
			mark(n)
		}
	}
	for id := range liveOut {
		if p, ok := producer[id]; ok {
			mark(p)
		}
	}

	var kept []*Node
	for _, n := range g.Nodes {
		if live[n] {
			kept = append(kept, n)
		}
	}
	g.Nodes = kept

	// Stack-sink nodes for every block-local value the successors need.
	for id := range liveOut {
		p, ok := producer[id]
		if !ok {
			continue // value flows through unchanged (a param), no sink needed here
		}
		sink := &Node{Kind: StackNode, Value: p.Value}
		g.Nodes = append(g.Nodes, sink)
		addEdge(sink, p)
	}

	return g
}
