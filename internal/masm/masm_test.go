package masm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintNestsControlFlow(t *testing.T) {
	f := &Function{
		Name: "example",
		Body: []Op{
			{Kind: Push, Imm: 1},
			{Kind: If, Then: []Op{{Kind: OpAdd}}, Else: []Op{{Kind: OpSub}}},
			{Kind: Exec, Callee: "other"},
		},
	}
	out := Print(f)
	require.True(t, strings.Contains(out, "if.true"))
	require.True(t, strings.Contains(out, "else"))
	require.True(t, strings.Contains(out, "exec.other"))
}

func TestOpStringForms(t *testing.T) {
	require.Equal(t, "push.7", Op{Kind: Push, Imm: 7}.String())
	require.Equal(t, "dup.2", Op{Kind: Dup, Index: 2}.String())
	require.Equal(t, "add", Op{Kind: OpAdd}.String())
}
