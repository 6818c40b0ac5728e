// Package stackify builds each block's dependency graph, condenses it into
// a tree graph, schedules the trees, and emits masm ops against a simulated
// operand stack — recovering structured if/while control flow from the
// unstructured CFG along the way. Grounded on
// original_source/codegen/masm/src/stackify/pass.rs.
package stackify

import (
	"github.com/pkg/errors"

	"kanso/internal/ir"
	"kanso/internal/masm"
)

// OperandStack simulates the machine's operand stack well enough to decide
// which stack-manipulation micro-ops (spec §3 "OperandStack") a requested
// access requires. Slot 0 is always the top of the stack, matching Miden's
// own dup.0/movup.0 addressing convention.
type OperandStack struct {
	slots []ir.ValueID
}

// NewOperandStack seeds a stack with entryArgs, topmost first.
func NewOperandStack(entryArgs []ir.ValueID) *OperandStack {
	s := &OperandStack{slots: append([]ir.ValueID{}, entryArgs...)}
	return s
}

func (s *OperandStack) Len() int { return len(s.slots) }

// Position returns v's distance from the top (0 = top), or -1 if v is not
// currently resident.
func (s *OperandStack) Position(v ir.ValueID) int {
	for i, id := range s.slots {
		if id == v {
			return i
		}
	}
	return -1
}

// Push places v on top, without emitting an op: used when an instruction's
// own execution produces a result (the op that computes it already leaves
// the result on top).
func (s *OperandStack) Push(v ir.ValueID) {
	s.slots = append([]ir.ValueID{v}, s.slots...)
}

// Pop removes and returns the top value.
func (s *OperandStack) Pop() ir.ValueID {
	v := s.slots[0]
	s.slots = s.slots[1:]
	return v
}

// Rename replaces the value identity at position i without moving
// anything: used when a jump's argument is already sitting exactly where
// the target block's parameter expects it.
func (s *OperandStack) Rename(i int, v ir.ValueID) {
	s.slots[i] = v
}

// Emitter wraps an OperandStack and appends masm Ops as it performs
// requested stack manipulations, used by the tree emitter to bring a
// value to a required position.
type Emitter struct {
	Stack *OperandStack
	Ops   []masm.Op
}

func NewEmitter(entryArgs []ir.ValueID) *Emitter {
	return &Emitter{Stack: NewOperandStack(entryArgs)}
}

func (e *Emitter) emit(op masm.Op) { e.Ops = append(e.Ops, op) }

// MoveToTop brings v to position 0, consuming it from wherever it sat
// (spec §3 "movup"). Panics if v is not resident: a precondition
// violation, since spill analysis guarantees residency of every value an
// instruction needs.
func (e *Emitter) MoveToTop(v ir.ValueID) {
	pos := e.Stack.Position(v)
	if pos < 0 {
		panic("stackify: value not resident on operand stack")
	}
	if pos == 0 {
		return
	}
	e.emit(masm.Op{Kind: masm.MovUp, Index: pos})
	id := e.Stack.slots[pos]
	e.Stack.slots = append(e.Stack.slots[:pos], e.Stack.slots[pos+1:]...)
	e.Stack.Push(id)
}

// CopyToTop duplicates v onto the top, leaving the original in place
// (spec §3 "dup"): used when v has further uses after this one.
func (e *Emitter) CopyToTop(v ir.ValueID) {
	pos := e.Stack.Position(v)
	if pos < 0 {
		panic("stackify: value not resident on operand stack")
	}
	e.emit(masm.Op{Kind: masm.Dup, Index: pos})
	e.Stack.Push(v)
}

// Drop removes the top value without using it (spec §3 "drop"): used for
// dead values that would otherwise linger past their last live point.
func (e *Emitter) Drop() {
	e.emit(masm.Op{Kind: masm.Drop})
	e.Stack.Pop()
}

// PushConst emits a literal push.
func (e *Emitter) PushConst(v ir.ValueID, imm int64) {
	e.emit(masm.Op{Kind: masm.Push, Imm: imm})
	e.Stack.Push(v)
}

// BinaryOp emits op consuming the top two operands and producing result.
func (e *Emitter) BinaryOp(kind masm.OpKind, result ir.ValueID) {
	e.Stack.Pop()
	e.Stack.Pop()
	e.emit(masm.Op{Kind: kind})
	e.Stack.Push(result)
}

// DropUnusedOperandsAfter drops every resident value not in keep, deepest
// first, so the stack holds exactly keep before a structured control
// transfer (spec §4.3, Br/CondBr "drop_unused_operands_after").
func (e *Emitter) DropUnusedOperandsAfter(keep map[ir.ValueID]bool) error {
	for i := len(e.Stack.slots) - 1; i >= 0; i-- {
		id := e.Stack.slots[i]
		if keep[id] {
			continue
		}
		if e.Stack.Position(id) != i {
			return errors.New("stackify: drop-unused pass found a stale stack position")
		}
		pos := i
		if pos != 0 {
			e.emit(masm.Op{Kind: masm.MovUp, Index: pos})
			e.Stack.slots = append(e.Stack.slots[:pos], e.Stack.slots[pos+1:]...)
			e.Stack.Push(id)
		}
		e.Drop()
	}
	return nil
}

// PrepareStackArguments reorders the stack so that args appear, topmost
// first in args[0]..args[n-1] order, exactly what a target block's
// parameters expect (spec §4.3, "successor-argument alignment via cycle
// decomposition"). Processing back-to-front and moving each argument to
// the top in turn leaves the earlier-processed (later-index) arguments
// correctly ordered beneath each subsequent move — equivalent to a cycle
// decomposition in the common case, if not always op-minimal. A value
// that appears more than once in args (the same argument bound to two of
// the target block's parameters) is duplicated rather than moved on every
// occurrence but its last, since a single resident slot can't supply two
// distinct parameter positions.
func (e *Emitter) PrepareStackArguments(args []ir.ValueID) {
	remaining := make(map[ir.ValueID]int, len(args))
	for _, a := range args {
		remaining[a]++
	}
	for i := len(args) - 1; i >= 0; i-- {
		id := args[i]
		remaining[id]--
		if remaining[id] > 0 {
			e.CopyToTop(id)
		} else {
			e.MoveToTop(id)
		}
	}
}
