// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"
	"kanso/internal/ir"
	"kanso/internal/masm"
	"kanso/internal/parser"
	"kanso/internal/stackify"
	"os"
	"strings"
)

func main() {
	dumpMasm := flag.Bool("dump-masm", false, "lower the stack-machine backend's demo program and print its op tree")
	flag.Parse()
	args := flag.Args()

	if *dumpMasm {
		runDumpMasm()
		return
	}

	if len(args) < 1 {
		fmt.Println("Usage: kanso <file.ka>")
		os.Exit(1)
	}

	path := args[0]

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read file: %s\n", err)
		os.Exit(1)
	}

	ast, err := parser.ParseSource(path, string(source))
	if err != nil {
		reportParseError(string(source), err)
		os.Exit(1)
	}

	fmt.Println(ast.String())

	color.Green("✅ Successfully processed %s", path)
}

// runDumpMasm exercises the stackify backend (internal/ir -> internal/
// liveness -> internal/spill -> internal/stackify -> internal/masm) end to
// end and prints the result, colorized the same way reportParseError
// colors diagnostics. There is no lowering yet from the front-end's parsed
// AST to internal/ir's block-parameter SSA form (spec.md's backend takes
// an already-SSA-form IR as input, and building that bridge is its own,
// separately-scoped project), so -dump-masm demonstrates the pipeline
// against a small built-in program instead of an arbitrary .ka file.
func runDumpMasm() {
	fb := ir.NewFunctionBuilder("demo")
	entry := fb.Block("entry")
	a := fb.Param(entry, "a", ir.Felt)
	b := fb.Param(entry, "b", ir.Felt)
	sum := fb.Binary(entry, "sum", ir.Felt, ir.Add, a, b)
	doubled := fb.Binary(entry, "doubled", ir.Felt, ir.Add, sum, sum)
	fb.Ret(entry, doubled)

	f, err := fb.Build()
	if err != nil {
		color.Red("dump-masm: %s", err)
		os.Exit(1)
	}

	mf, err := stackify.Stackify(f, ir.NewGlobalLayout())
	if err != nil {
		color.Red("dump-masm: %s", err)
		os.Exit(1)
	}

	color.Cyan("-- %s --", mf.Name)
	fmt.Print(masm.Print(mf))
}

// reportParseError prints a friendly caret-style parse error message.
func reportParseError(src string, err error) {
	pe, ok := err.(participle.Error)
	if !ok {
		color.Red("Unexpected error: %s", err)
		return
	}

	pos := pe.Position()
	lines := strings.Split(src, "\n")
	if pos.Line <= 0 || pos.Line > len(lines) {
		color.Red("Syntax error at unknown location: %s", err)
		return
	}

	line := lines[pos.Line-1]
	caret := strings.Repeat(" ", pos.Column-1) + "^"

	color.Red("❌ Syntax error in %s at line %d, column %d:", pos.Filename, pos.Line, pos.Column)
	fmt.Println(line)
	color.HiRed(caret)
	fmt.Printf("→ %s\n", pe.Message())
}
