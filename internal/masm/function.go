package masm

import "strings"

// Function is the lowered form of one ir.Function: a flat, structured
// sequence of Ops (spec §6, "a tree-of-ops" — nesting lives inside If/
// While Op values rather than as a separate block graph, since Miden's own
// MAST is tree-shaped).
type Function struct {
	Name string
	Body []Op
}

// Print renders the function as indented MASM-like text, used by the
// -dump-masm CLI flag.
func Print(f *Function) string {
	var b strings.Builder
	b.WriteString("proc.")
	b.WriteString(f.Name)
	b.WriteString("\n")
	printOps(&b, f.Body, 1)
	b.WriteString("end\n")
	return b.String()
}

func printOps(b *strings.Builder, ops []Op, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, op := range ops {
		switch op.Kind {
		case If:
			b.WriteString(indent + "if.true\n")
			printOps(b, op.Then, depth+1)
			if len(op.Else) > 0 {
				b.WriteString(indent + "else\n")
				printOps(b, op.Else, depth+1)
			}
			b.WriteString(indent + "end\n")
		case While:
			b.WriteString(indent + "while.true\n")
			printOps(b, op.Body, depth+1)
			b.WriteString(indent + "end\n")
		default:
			b.WriteString(indent)
			b.WriteString(op.String())
			b.WriteString("\n")
		}
	}
}
