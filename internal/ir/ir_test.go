package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildDiamond builds:
//
//	entry -> left, right
//	left -> join
//	right -> join
//	join -> ret
func buildDiamond(t *testing.T) (*Function, BlockID, BlockID, BlockID, BlockID) {
	t.Helper()
	fb := NewFunctionBuilder("diamond")
	entry := fb.Block("entry")
	left := fb.Block("left")
	right := fb.Block("right")
	join := fb.Block("join")

	cond := fb.Const(entry, "c", Bool, 1)
	fb.Branch(entry, cond, left, right, nil, nil)

	a := fb.Const(left, "a", Felt, 1)
	fb.Jump(left, join, []*Value{a})

	b := fb.Const(right, "b", Felt, 2)
	fb.Jump(right, join, []*Value{b})

	p := fb.Param(join, "p", Felt)
	fb.Ret(join, p)

	f, err := fb.Build()
	require.NoError(t, err)
	return f, entry, left, right, join
}

func TestBuildCFG(t *testing.T) {
	f, entry, left, right, join := buildDiamond(t)
	require.ElementsMatch(t, []BlockID{left, right}, f.Block(entry).Succs)
	require.ElementsMatch(t, []BlockID{entry}, f.Block(left).Preds)
	require.ElementsMatch(t, []BlockID{left, right}, f.Block(join).Preds)
}

func TestBuildCFGRejectsArityMismatch(t *testing.T) {
	fb := NewFunctionBuilder("bad")
	entry := fb.Block("entry")
	target := fb.Block("target")
	fb.Param(target, "p", Felt)
	fb.Jump(entry, target, nil) // missing argument for p
	_, err := fb.Build()
	require.Error(t, err)
}

func TestDominatorTree(t *testing.T) {
	f, entry, left, right, join := buildDiamond(t)
	dt := BuildDominatorTree(f)

	require.Equal(t, entry, dt.IDom(left))
	require.Equal(t, entry, dt.IDom(right))
	require.Equal(t, entry, dt.IDom(join), "join is dominated by entry, not by either arm")
	require.True(t, dt.Dominates(entry, join))
	require.False(t, dt.Dominates(left, join))
}

// buildLoop builds:
//
//	entry -> header
//	header -> body, exit   (conditional)
//	body -> header         (back edge)
//	exit -> ret
func buildLoop(t *testing.T) (*Function, BlockID, BlockID, BlockID, BlockID) {
	t.Helper()
	fb := NewFunctionBuilder("loop")
	entry := fb.Block("entry")
	header := fb.Block("header")
	body := fb.Block("body")
	exit := fb.Block("exit")

	i0 := fb.Const(entry, "i0", Felt, 0)
	fb.Jump(entry, header, []*Value{i0})

	i := fb.Param(header, "i", Felt)
	cond := fb.Binary(header, "cond", Bool, Lt, i, i)
	fb.Branch(header, cond, body, exit, []*Value{i}, []*Value{i})

	iBody := fb.Param(body, "iBody", Felt)
	next := fb.Binary(body, "next", Felt, Add, iBody, iBody)
	fb.Jump(body, header, []*Value{next})

	iExit := fb.Param(exit, "iExit", Felt)
	fb.Ret(exit, iExit)

	f, err := fb.Build()
	require.NoError(t, err)
	return f, entry, header, body, exit
}

func TestLoopForest(t *testing.T) {
	f, _, header, body, exit := buildLoop(t)
	dt := BuildDominatorTree(f)
	lf := BuildLoopForest(f, dt)

	loop, ok := lf.ByHeader[header]
	require.True(t, ok, "header block should be recognized as a loop header")
	require.True(t, loop.Contains(header))
	require.True(t, loop.Contains(body))
	require.False(t, loop.Contains(exit))
	require.Equal(t, 1, loop.Level)

	require.Equal(t, loop, lf.InnermostLoop(body))
	require.Nil(t, lf.InnermostLoop(exit))
}

func TestGlobalLayout(t *testing.T) {
	layout := NewGlobalLayout()
	offA, err := layout.Declare("A", Felt)
	require.NoError(t, err)
	require.Equal(t, 0, offA)

	offB, err := layout.Declare("B", Word)
	require.NoError(t, err)
	require.Equal(t, 1, offB)
	require.Equal(t, 5, layout.NextAvailableOffset())

	_, err = layout.Declare("A", Felt)
	require.Error(t, err)

	chain := &GlobalValue{Base: &GlobalValue{Symbol: "B"}, Offset: 2}
	require.Equal(t, offB+2, ResolveAddress(layout, chain))
}
