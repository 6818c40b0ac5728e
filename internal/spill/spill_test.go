package spill

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kanso/internal/ir"
	"kanso/internal/liveness"
)

func analyze(t *testing.T, fn func(fb *ir.FunctionBuilder)) (*ir.Function, *Analysis) {
	t.Helper()
	fb := ir.NewFunctionBuilder("f")
	fn(fb)
	f, err := fb.Build()
	require.NoError(t, err)
	dt := ir.BuildDominatorTree(f)
	lf := ir.BuildLoopForest(f, dt)
	liv, err := liveness.Compute(f, dt, lf)
	require.NoError(t, err)
	a, err := Compute(f, dt, lf, liv)
	require.NoError(t, err)
	return f, a
}

// TestNoSpillsUnderBudget: a function whose peak pressure never exceeds K
// produces no spills at all.
func TestNoSpillsUnderBudget(t *testing.T) {
	_, a := analyze(t, func(fb *ir.FunctionBuilder) {
		entry := fb.Block("entry")
		x := fb.Const(entry, "x", ir.Felt, 1)
		y := fb.Const(entry, "y", ir.Felt, 2)
		sum := fb.Binary(entry, "sum", ir.Felt, ir.Add, x, y)
		fb.Ret(entry, sum)
	})
	require.Empty(t, a.Spills)
	require.Empty(t, a.Reloads)
}

// TestSpillWhenExceedingK: K+1 simultaneously-live values force at least
// one spill, and the invariant that at most K operands are ever resident
// holds for every block's WEntry/WExit.
func TestSpillWhenExceedingK(t *testing.T) {
	f, a := analyze(t, func(fb *ir.FunctionBuilder) {
		entry := fb.Block("entry")
		vals := make([]*ir.Value, 0, K+1)
		for i := 0; i < K+1; i++ {
			vals = append(vals, fb.Const(entry, "", ir.Felt, int64(i)))
		}
		// Use every value at the very end so all K+1 are simultaneously
		// live right before the final instruction.
		acc := vals[0]
		for i := 1; i < len(vals); i++ {
			acc = fb.Binary(entry, "", ir.Felt, ir.Add, acc, vals[i])
		}
		fb.Ret(entry, acc)
	})

	require.NotEmpty(t, a.Spills, "more than K live values must force a spill")

	for _, b := range f.Blocks {
		usage := 0
		for _, op := range a.WEntry[b.ID] {
			usage += op.Size
		}
		require.LessOrEqual(t, usage, K, "WEntry for %s must respect K", b)
		usage = 0
		for _, op := range a.WExit[b.ID] {
			usage += op.Size
		}
		require.LessOrEqual(t, usage, K, "WExit for %s must respect K", b)
	}
}

// TestSpilledValueIsReloadedBeforeUse: any value recorded as spilled that
// is used again must have a corresponding reload.
func TestSpilledValueIsReloadedBeforeUse(t *testing.T) {
	_, a := analyze(t, func(fb *ir.FunctionBuilder) {
		entry := fb.Block("entry")
		vals := make([]*ir.Value, 0, K+2)
		for i := 0; i < K+2; i++ {
			vals = append(vals, fb.Const(entry, "", ir.Felt, int64(i)))
		}
		acc := vals[0]
		for i := 1; i < len(vals); i++ {
			acc = fb.Binary(entry, "", ir.Felt, ir.Add, acc, vals[i])
		}
		fb.Ret(entry, acc)
	})

	reloaded := make(map[ir.ValueID]bool)
	for _, r := range a.Reloads {
		reloaded[r.Value] = true
	}
	for id := range a.Spilled {
		require.True(t, reloaded[id], "spilled value %v must be reloaded before its later use", id)
	}
}
