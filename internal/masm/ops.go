// Package masm defines the primitive op vocabulary the stackify pass emits
// into (spec §6, "Output of the core"): constants, stack manipulation,
// arithmetic/comparison/bitwise ops, memory ops, structured control flow,
// procedure invocation, and assertions. Grounded on the op groupings
// implied by original_source/codegen/masm/src/stackify/pass.rs's emit_*
// family and hir/src/asm(.rs)/isa.rs's instruction set.
package masm

import "fmt"

// OpKind names one primitive operation.
type OpKind int

const (
	// Constants and locals.
	Push OpKind = iota
	PadW

	// Stack manipulation (spec §3 "OperandStack").
	Dup
	DupW
	Swap
	SwapW
	MovUp
	MovDn
	MovUpW
	MovDnW
	Drop
	DropW

	// Arithmetic / comparison / bitwise.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpEq
	OpLt
	OpGt

	// Memory.
	MemLoad
	MemStore

	// Local memory (spill slots, spec §4.2: a value evicted from the
	// operand-stack budget is stored here and reloaded ahead of its next
	// use; distinct from MemLoad/MemStore's global-variable addressing).
	LocStore
	LocLoad

	// Structured control flow.
	If
	While

	// Procedure invocation.
	Exec
	Call

	// Assertions / debug.
	Assert
	Trace
)

var opNames = map[OpKind]string{
	Push: "push", PadW: "padw",
	Dup: "dup", DupW: "dupw", Swap: "swap", SwapW: "swapw",
	MovUp: "movup", MovDn: "movdn", MovUpW: "movupw", MovDnW: "movdnw",
	Drop: "drop", DropW: "dropw",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpEq: "eq", OpLt: "lt", OpGt: "gt",
	MemLoad: "mem_load", MemStore: "mem_store",
	LocStore: "loc_store", LocLoad: "loc_load",
	If: "if.true", While: "while.true",
	Exec: "exec", Call: "call",
	Assert: "assert", Trace: "trace",
}

func (k OpKind) String() string {
	if n, ok := opNames[k]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one emitted operation. Index is the stack-position operand carried
// by the stack-manipulation ops (dup(i), movup(i), ...); it is unused
// (zero) for ops that don't take one. Imm is the push/literal operand.
// Callee names a procedure invocation's target.
type Op struct {
	Kind   OpKind
	Index  int
	Imm    int64
	Callee string

	// Then/Else are the nested op sequences for If; Body is the nested
	// sequence for While.
	Then, Else, Body []Op
}

func (o Op) String() string {
	switch o.Kind {
	case Push:
		return fmt.Sprintf("push.%d", o.Imm)
	case Dup, DupW, MovUp, MovDn, MovUpW, MovDnW, Swap, SwapW, LocStore, LocLoad:
		return fmt.Sprintf("%s.%d", o.Kind, o.Index)
	case Exec, Call:
		return fmt.Sprintf("%s.%s", o.Kind, o.Callee)
	case If:
		return "if.true ... end"
	case While:
		return "while.true ... end"
	default:
		return o.Kind.String()
	}
}
