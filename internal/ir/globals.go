package ir

import "github.com/pkg/errors"

// GlobalValue is one link in a global-variable address chain: either a
// symbol with a linker-assigned base address, or an offset from another
// global value. Chains are walked by ResolveAddress, which the stackify
// package calls (spec §4.3 "Global-variable addresses"), grounded on the
// original compiler's calculate_global_value_addr.
type GlobalValue struct {
	Symbol string // non-empty only for a symbol link
	Base   *GlobalValue
	Offset int
	Type   Type
}

// GlobalLayout assigns base offsets to linker symbols, counted in felt-sized
// slots (each symbol advances the next offset by its Type.Size()). The
// layout is read-only from the perspective of every function's analysis
// passes (spec §5: "read-only global-variable layout" is the one piece of
// state shared across function boundaries).
type GlobalLayout struct {
	bases map[string]int
	next  int
}

// NewGlobalLayout returns an empty layout.
func NewGlobalLayout() *GlobalLayout {
	return &GlobalLayout{bases: make(map[string]int)}
}

// Declare assigns symbol the next available base offset sized for typ, and
// returns that offset. Declaring the same symbol twice is a precondition
// violation.
func (g *GlobalLayout) Declare(symbol string, typ Type) (int, error) {
	if _, exists := g.bases[symbol]; exists {
		return 0, errors.Errorf("ir: global %q declared twice", symbol)
	}
	base := g.next
	g.bases[symbol] = base
	g.next += typ.Size()
	return base, nil
}

// BaseOffsetOf returns the base offset of a previously declared symbol.
func (g *GlobalLayout) BaseOffsetOf(symbol string) (int, bool) {
	off, ok := g.bases[symbol]
	return off, ok
}

// NextAvailableOffset returns the offset that would be assigned to the next
// declared symbol.
func (g *GlobalLayout) NextAvailableOffset() int { return g.next }

// ResolveAddress walks a global-value chain to a concrete address,
// accumulating offsets until it reaches a symbol base address from the
// layout. Panics (spec §7, pre-condition violation) if the chain bottoms
// out without a symbol, since that indicates a malformed IR rather than an
// unsupported-but-valid construct.
func ResolveAddress(layout *GlobalLayout, gv *GlobalValue) int {
	offset := 0
	for gv.Base != nil {
		offset += gv.Offset
		gv = gv.Base
	}
	if gv.Symbol == "" {
		panic("ir: global value chain does not terminate at a symbol")
	}
	base, ok := layout.BaseOffsetOf(gv.Symbol)
	if !ok {
		panic("ir: global value chain references undeclared symbol " + gv.Symbol)
	}
	return base + offset
}
