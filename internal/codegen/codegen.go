// Package codegen renders a validated, ordered set of variables into one
// self-contained JavaScript module. Formula bodies are rewritten by splicing
// the original source text at the byte ranges the analyzer recorded: entity
// calls collapse to local names, parameter chains collapse to frozen
// literals, and scalar function names are swapped for their JavaScript
// spellings. Everything else is carried over byte-for-byte.
package codegen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rulec/internal/formula"
	"github.com/vk/rulec/internal/params"
)

// Output formats for the generated module.
const (
	FormatESM      = "esm"
	FormatCommonJS = "commonjs"
	FormatIIFE     = "iife"
)

// Options controls the shape of the rendered artifact.
type Options struct {
	// Format selects the module wrapper; FormatESM when empty.
	Format string

	// EntryName is the exposed function name; "calculate" when empty.
	EntryName string

	// GlobalName is the variable the IIFE format assigns to; "rulec" when
	// empty. Ignored by other formats.
	GlobalName string

	// JSDoc emits a documentation comment on the entry point.
	JSDoc bool
}

// Input is a registered input variable and its default.
type Input struct {
	Name    string
	Default cty.Value
}

// Formula is one derived variable in topological order, carrying its raw
// source and the analysis recorded at registration.
type Formula struct {
	Name     string
	Source   string
	Analysis *formula.Analysis
}

// Module is everything the generator needs: inputs in registration order,
// formulas in topological order, frozen parameter values, and the as-of
// date they were captured at. Rendering is a pure function of this value.
type Module struct {
	AsOf       time.Time
	Inputs     []Input
	Formulas   []Formula
	Parameters map[string]cty.Value

	// Functions maps scalar function names to their JavaScript spellings.
	// The default dialect's mapping applies when nil.
	Functions map[string]string
}

// Render produces the artifact text. Identical modules always yield
// byte-identical output: no timestamps, no randomness, no I/O.
func Render(m Module, opts Options) (string, error) {
	format := opts.Format
	if format == "" {
		format = FormatESM
	}
	switch format {
	case FormatESM, FormatCommonJS, FormatIIFE:
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}

	entry := opts.EntryName
	if entry == "" {
		entry = "calculate"
	}

	funcs := m.Functions
	if funcs == nil {
		funcs = formula.DefaultDialect().ScalarFunctions
	}

	literals := make(map[string]string, len(m.Parameters))
	for path, val := range m.Parameters {
		lit, err := literal(val)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", path, err)
		}
		literals[path] = lit
	}

	// Input defaults must render as scalar literals; anything else would
	// degrade into a broken signature.
	defaults := make([]string, len(m.Inputs))
	for i, in := range m.Inputs {
		lit, err := literal(in.Default)
		if err != nil {
			return "", fmt.Errorf("input %q: %w", in.Name, err)
		}
		defaults[i] = lit
	}

	usesWhere := false
	bodies := make([]string, 0, len(m.Formulas))
	for _, f := range m.Formulas {
		body, whered, err := rewrite(f, literals, funcs)
		if err != nil {
			return "", err
		}
		usesWhere = usesWhere || whered
		bodies = append(bodies, fmt.Sprintf("  const %s = %s;", f.Name, body))
	}

	var fn strings.Builder
	if opts.JSDoc {
		writeJSDoc(&fn, m.Inputs, defaults)
	}
	fn.WriteString(fmt.Sprintf("function %s({%s} = {}) {\n", entry, signature(m.Inputs, defaults)))
	for _, line := range bodies {
		fn.WriteString(line)
		fn.WriteString("\n")
	}
	fn.WriteString("  return {\n")
	for _, in := range m.Inputs {
		fn.WriteString(fmt.Sprintf("    %s,\n", in.Name))
	}
	for _, f := range m.Formulas {
		fn.WriteString(fmt.Sprintf("    %s,\n", f.Name))
	}
	fn.WriteString("  };\n}\n")

	var b strings.Builder
	b.WriteString("// Code generated by rulec. DO NOT EDIT.\n")
	b.WriteString(fmt.Sprintf("// Parameter values frozen as of %s.\n\n", m.AsOf.Format(params.DateLayout)))

	helper := ""
	if usesWhere {
		helper = "const where = (cond, ifTrue, ifFalse) => (cond ? ifTrue : ifFalse);\n\n"
	}

	switch format {
	case FormatESM:
		b.WriteString(helper)
		b.WriteString("export ")
		b.WriteString(fn.String())
	case FormatCommonJS:
		b.WriteString(helper)
		b.WriteString(fn.String())
		b.WriteString(fmt.Sprintf("\nmodule.exports = { %s };\n", entry))
	case FormatIIFE:
		global := opts.GlobalName
		if global == "" {
			global = "rulec"
		}
		b.WriteString(fmt.Sprintf("var %s = (function () {\n", global))
		b.WriteString(indent(helper+fn.String(), "  "))
		b.WriteString(fmt.Sprintf("  return { %s: %s };\n})();\n", entry, entry))
	}

	return b.String(), nil
}

// signature renders the defaulted destructuring parameter list, in
// registration order. defaults holds the pre-rendered literal per input.
func signature(inputs []Input, defaults []string) string {
	parts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		parts = append(parts, fmt.Sprintf("%s = %s", in.Name, defaults[i]))
	}
	return strings.Join(parts, ", ")
}

func writeJSDoc(b *strings.Builder, inputs []Input, defaults []string) {
	b.WriteString("/**\n")
	b.WriteString(" * Computes every registered variable from the given inputs.\n")
	b.WriteString(" *\n")
	b.WriteString(" * @param {Object} [inputs]\n")
	for i, in := range inputs {
		b.WriteString(fmt.Sprintf(" * @param {%s} [inputs.%s=%s]\n", jsdocType(in.Default), in.Name, defaults[i]))
	}
	b.WriteString(" * @returns {Object} every variable name mapped to its computed value\n")
	b.WriteString(" */\n")
}

func jsdocType(v cty.Value) string {
	switch v.Type() {
	case cty.Bool:
		return "boolean"
	case cty.String:
		return "string"
	default:
		return "number"
	}
}

// edit is a pending replacement of source[Start:End) with Text.
type edit struct {
	Start int
	End   int
	Text  string
}

// rewrite applies the analyzer's rewrite sites to one formula source and
// reports whether the where() helper is needed.
func rewrite(f Formula, literals map[string]string, funcs map[string]string) (string, bool, error) {
	var edits []edit
	usesWhere := false

	for _, call := range f.Analysis.EntityCalls {
		edits = append(edits, edit{Start: call.Range.Start.Byte, End: call.Range.End.Byte, Text: call.Name})
	}
	for _, ref := range f.Analysis.ParameterRefs {
		lit, ok := literals[ref.Path]
		if !ok {
			return "", false, fmt.Errorf("variable %q references parameter %q with no frozen value", f.Name, ref.Path)
		}
		if strings.HasPrefix(lit, "-") {
			lit = "(" + lit + ")"
		}
		edits = append(edits, edit{Start: ref.Range.Start.Byte, End: ref.Range.End.Byte, Text: lit})
	}
	for _, call := range f.Analysis.FunctionCalls {
		if call.Name == "where" {
			usesWhere = true
		}
		target, ok := funcs[call.Name]
		if !ok || target == call.Name {
			continue
		}
		edits = append(edits, edit{Start: call.NameRange.Start.Byte, End: call.NameRange.End.Byte, Text: target})
	}

	out, err := splice(f.Source, edits)
	if err != nil {
		return "", false, fmt.Errorf("variable %q: %w", f.Name, err)
	}
	return out, usesWhere, nil
}

// splice applies non-overlapping edits to source.
func splice(source string, edits []edit) (string, error) {
	sort.Slice(edits, func(i, j int) bool { return edits[i].Start < edits[j].Start })

	var b strings.Builder
	pos := 0
	for _, e := range edits {
		if e.Start < pos || e.End > len(source) {
			return "", fmt.Errorf("rewrite site [%d,%d) out of bounds", e.Start, e.End)
		}
		b.WriteString(source[pos:e.Start])
		b.WriteString(e.Text)
		pos = e.End
	}
	b.WriteString(source[pos:])
	return b.String(), nil
}

// literal renders a frozen scalar as JavaScript source. Numbers use the
// shortest exact decimal form so output stays byte-stable.
func literal(v cty.Value) (string, error) {
	if v == cty.NilVal || v.IsNull() {
		return "", fmt.Errorf("value is null")
	}
	switch v.Type() {
	case cty.Number:
		return v.AsBigFloat().Text('f', -1), nil
	case cty.Bool:
		if v.True() {
			return "true", nil
		}
		return "false", nil
	case cty.String:
		return strconv.Quote(v.AsString()), nil
	default:
		return "", fmt.Errorf("unsupported scalar type %s", v.Type().FriendlyName())
	}
}

// indent prefixes every non-empty line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			break
		}
		if line != "" {
			b.WriteString(prefix)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
