// Package formula statically analyzes rule formulas. A formula is a single
// HCL expression; the analyzer walks its syntax tree to extract the names of
// other variables it references, the dotted parameter paths it reads, and
// the rewrite sites the code generator later splices. Nothing is evaluated.
package formula

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// EntityCall is one entity("name", period) reference site. Range covers the
// whole call expression within the analyzed source.
type EntityCall struct {
	Range hcl.Range
	Name  string
}

// ParameterRef is one param(period).a.b.c reference site. Range covers the
// whole access chain within the analyzed source.
type ParameterRef struct {
	Range hcl.Range
	Path  string
}

// FunctionCall is the name token of a scalar function call, recorded so the
// generator can swap the name for its target spelling.
type FunctionCall struct {
	NameRange hcl.Range
	Name      string
}

// Analysis is the result of statically scanning one formula.
type Analysis struct {
	// Variables is the sorted, de-duplicated set of variable names the
	// formula references, through entity calls or bare identifiers.
	Variables []string

	// Parameters is the sorted, de-duplicated set of dotted parameter paths
	// the formula reads.
	Parameters []string

	// EntityCalls, ParameterRefs and FunctionCalls are rewrite sites in
	// source order.
	EntityCalls   []EntityCall
	ParameterRefs []ParameterRef
	FunctionCalls []FunctionCall
}

// UnsupportedError reports a construct the analyzer cannot safely translate.
// The compilation session wraps it with the enclosing variable's name.
type UnsupportedError struct {
	Construct string
	Detail    string
}

func (e *UnsupportedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsupported construct: %s", e.Construct)
	}
	return fmt.Sprintf("unsupported construct: %s: %s", e.Construct, e.Detail)
}

// Analyze parses source as a single HCL expression and extracts every
// variable and parameter reference. The result is deterministic for a fixed
// source text.
func Analyze(source string, dialect Dialect) (*Analysis, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(source), "formula.hcl", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing formula: %w", diags)
	}

	w := &walker{dialect: dialect, variables: map[string]struct{}{}, parameters: map[string]struct{}{}}
	if err := w.walk(expr); err != nil {
		return nil, err
	}

	a := &Analysis{
		Variables:     sortedKeys(w.variables),
		Parameters:    sortedKeys(w.parameters),
		EntityCalls:   w.entityCalls,
		ParameterRefs: w.parameterRefs,
		FunctionCalls: w.functionCalls,
	}
	return a, nil
}

type walker struct {
	dialect    Dialect
	variables  map[string]struct{}
	parameters map[string]struct{}

	entityCalls   []EntityCall
	parameterRefs []ParameterRef
	functionCalls []FunctionCall
}

// walk recursively visits an expression. Only the translatable subset of the
// HCL grammar is accepted; anything else fails fast with UnsupportedError so
// a construct is never silently dropped or mistranslated.
func (w *walker) walk(expr hclsyntax.Expression) error {
	if expr == nil {
		return nil
	}

	// Parameter access chains are consumed whole so their inner call is
	// never visited as a plain function call.
	if ref, ok, err := w.parameterAccess(expr); err != nil {
		return err
	} else if ok {
		w.parameters[ref.Path] = struct{}{}
		w.parameterRefs = append(w.parameterRefs, ref)
		return nil
	}

	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		return nil

	case *hclsyntax.TemplateExpr:
		if e.IsStringLiteral() {
			return nil
		}
		return &UnsupportedError{Construct: "template interpolation"}

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return &UnsupportedError{
				Construct: "attribute access",
				Detail:    fmt.Sprintf("on identifier %q", e.Traversal.RootName()),
			}
		}
		w.variables[e.Traversal.RootName()] = struct{}{}
		return nil

	case *hclsyntax.FunctionCallExpr:
		return w.walkCall(e)

	case *hclsyntax.BinaryOpExpr:
		if err := w.walk(e.LHS); err != nil {
			return err
		}
		return w.walk(e.RHS)

	case *hclsyntax.UnaryOpExpr:
		return w.walk(e.Val)

	case *hclsyntax.ConditionalExpr:
		if err := w.walk(e.Condition); err != nil {
			return err
		}
		if err := w.walk(e.TrueResult); err != nil {
			return err
		}
		return w.walk(e.FalseResult)

	case *hclsyntax.ParenthesesExpr:
		return w.walk(e.Expression)

	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			if err := w.walk(item); err != nil {
				return err
			}
		}
		return nil

	case *hclsyntax.IndexExpr:
		if isParameterCall(e.Collection, w.dialect) || w.isParameterChain(e.Collection) {
			return &UnsupportedError{Construct: "bracketed parameter schedule lookup"}
		}
		if err := w.walk(e.Collection); err != nil {
			return err
		}
		return w.walk(e.Key)

	case *hclsyntax.ObjectConsExpr:
		return &UnsupportedError{Construct: "object constructor"}

	case *hclsyntax.ForExpr:
		return &UnsupportedError{Construct: "for expression"}

	case *hclsyntax.SplatExpr:
		return &UnsupportedError{Construct: "splat expression"}

	default:
		return &UnsupportedError{Construct: fmt.Sprintf("expression of type %T", expr)}
	}
}

// walkCall handles every function-call shape the dialect knows about.
func (w *walker) walkCall(e *hclsyntax.FunctionCallExpr) error {
	if _, ok := w.dialect.EntityFunctions[e.Name]; ok {
		name, err := entityCallTarget(e)
		if err != nil {
			return err
		}
		w.variables[name] = struct{}{}
		w.entityCalls = append(w.entityCalls, EntityCall{Range: e.Range(), Name: name})
		return nil
	}

	if _, ok := w.dialect.ParameterFunctions[e.Name]; ok {
		// A parameter call that is not followed by a dotted path denotes the
		// entire parameter tree, which has no frozen scalar equivalent.
		return &UnsupportedError{
			Construct: "bare parameter access",
			Detail:    fmt.Sprintf("%s(...) must be followed by a dotted path", e.Name),
		}
	}

	if _, ok := w.dialect.AggregateFunctions[e.Name]; ok {
		for _, arg := range e.Args {
			if w.isParameterChain(arg) || isParameterCall(arg, w.dialect) {
				return &UnsupportedError{
					Construct: "parameter-defined variable list",
					Detail:    fmt.Sprintf("argument of %s() is a parameter value", e.Name),
				}
			}
		}
		return &UnsupportedError{
			Construct: "entity aggregation call",
			Detail:    fmt.Sprintf("%s() aggregates across sub-entities", e.Name),
		}
	}

	if _, ok := w.dialect.ScalarFunctions[e.Name]; ok {
		w.functionCalls = append(w.functionCalls, FunctionCall{NameRange: e.NameRange, Name: e.Name})
		for _, arg := range e.Args {
			if err := w.walk(arg); err != nil {
				return err
			}
		}
		return nil
	}

	return &UnsupportedError{Construct: "unknown function", Detail: fmt.Sprintf("%s()", e.Name)}
}

// parameterAccess recognizes param(period).a.b.c chains. It reports an error
// for chains that contain index steps (schedule lookups).
func (w *walker) parameterAccess(expr hclsyntax.Expression) (ParameterRef, bool, error) {
	rel, ok := expr.(*hclsyntax.RelativeTraversalExpr)
	if !ok {
		return ParameterRef{}, false, nil
	}
	call, ok := rel.Source.(*hclsyntax.FunctionCallExpr)
	if !ok {
		return ParameterRef{}, false, nil
	}
	if _, ok := w.dialect.ParameterFunctions[call.Name]; !ok {
		return ParameterRef{}, false, nil
	}

	if len(call.Args) != 1 {
		return ParameterRef{}, false, &UnsupportedError{
			Construct: "malformed parameter access",
			Detail:    fmt.Sprintf("%s() takes exactly one period argument", call.Name),
		}
	}

	path := ""
	for _, step := range rel.Traversal {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			if path != "" {
				path += "."
			}
			path += s.Name
		case hcl.TraverseIndex:
			return ParameterRef{}, false, &UnsupportedError{Construct: "bracketed parameter schedule lookup"}
		default:
			return ParameterRef{}, false, &UnsupportedError{Construct: "malformed parameter access"}
		}
	}
	if path == "" {
		return ParameterRef{}, false, &UnsupportedError{Construct: "bare parameter access"}
	}

	return ParameterRef{Range: rel.Range(), Path: path}, true, nil
}

// isParameterChain reports whether expr is a parameter access chain, without
// recording it.
func (w *walker) isParameterChain(expr hclsyntax.Expression) bool {
	rel, ok := expr.(*hclsyntax.RelativeTraversalExpr)
	if !ok {
		return false
	}
	return isParameterCall(rel.Source, w.dialect)
}

func isParameterCall(expr hclsyntax.Expression, d Dialect) bool {
	call, ok := expr.(*hclsyntax.FunctionCallExpr)
	if !ok {
		return false
	}
	_, ok = d.ParameterFunctions[call.Name]
	return ok
}

// entityCallTarget validates an entity("name", period) call and returns the
// referenced variable name.
func entityCallTarget(e *hclsyntax.FunctionCallExpr) (string, error) {
	if len(e.Args) != 2 {
		return "", &UnsupportedError{
			Construct: "malformed entity call",
			Detail:    fmt.Sprintf("%s() takes a variable name and a period", e.Name),
		}
	}

	val, diags := e.Args[0].Value(nil)
	if diags.HasErrors() || val.Type() != cty.String || !val.IsKnown() {
		return "", &UnsupportedError{
			Construct: "dynamic variable reference",
			Detail:    fmt.Sprintf("first argument of %s() must be a quoted variable name", e.Name),
		}
	}

	period, ok := e.Args[1].(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(period.Traversal) != 1 {
		return "", &UnsupportedError{
			Construct: "malformed entity call",
			Detail:    fmt.Sprintf("second argument of %s() must be a period identifier", e.Name),
		}
	}

	return val.AsString(), nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
