// Package rules loads rule packages: HCL files declaring input variables,
// derived variables with their formulas, and time-indexed parameter values.
// The loader keeps each formula's raw source text by slicing the file bytes
// at the expression's range, so the analyzer and generator see exactly what
// the author wrote.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rulec/internal/ctxlog"
	"github.com/vk/rulec/internal/fsutil"
	"github.com/vk/rulec/internal/params"
)

// Input is a declared input variable.
type Input struct {
	Name    string
	Default cty.Value
}

// Variable is a declared derived variable. Source is the formula's raw text;
// DependsOn, when present, overrides dependency extraction.
type Variable struct {
	Name      string
	Source    string
	DependsOn []string
	DeclRange hcl.Range
}

// Parameter is a declared parameter path with its dated value history.
type Parameter struct {
	Path   string
	Values []params.DatedValue
}

// Package is the format-agnostic model of one loaded rule package, in
// declaration order.
type Package struct {
	Inputs     []*Input
	Variables  []*Variable
	Parameters []*Parameter
}

// fileRoot decodes the top-level blocks of a rule file.
type fileRoot struct {
	Inputs     []*inputBlock     `hcl:"input,block"`
	Variables  []*variableBlock  `hcl:"variable,block"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
}

type inputBlock struct {
	Name    string    `hcl:"name,label"`
	Default cty.Value `hcl:"default"`
}

type variableBlock struct {
	Name      string         `hcl:"name,label"`
	Formula   hcl.Expression `hcl:"formula"`
	DependsOn []string       `hcl:"depends_on,optional"`
}

type parameterBlock struct {
	Path   string     `hcl:"path,label"`
	Value  *cty.Value `hcl:"value,optional"`
	Values *cty.Value `hcl:"values,optional"`
}

// Load reads every .hcl file under the given paths (files or directories)
// and merges them into one Package.
func Load(ctx context.Context, paths ...string) (*Package, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Rule package loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl rule files found under %v", paths)
	}
	logger.Debug("Discovered rule files.", "count", len(files))

	pkg := &Package{}
	parser := hclparse.NewParser()

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse rule file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode rule file %s: %w", file, diags)
		}

		for _, in := range root.Inputs {
			pkg.Inputs = append(pkg.Inputs, &Input{Name: in.Name, Default: in.Default})
		}
		for _, v := range root.Variables {
			source, err := expressionSource(hclFile.Bytes, v.Formula)
			if err != nil {
				return nil, fmt.Errorf("variable %q in %s: %w", v.Name, file, err)
			}
			pkg.Variables = append(pkg.Variables, &Variable{
				Name:      v.Name,
				Source:    source,
				DependsOn: v.DependsOn,
				DeclRange: v.Formula.Range(),
			})
		}
		for _, p := range root.Parameters {
			values, err := parameterHistory(p)
			if err != nil {
				return nil, fmt.Errorf("parameter %q in %s: %w", p.Path, file, err)
			}
			pkg.Parameters = append(pkg.Parameters, &Parameter{Path: p.Path, Values: values})
		}
	}

	logger.Debug("Rule package loaded.",
		"inputs", len(pkg.Inputs), "variables", len(pkg.Variables), "parameters", len(pkg.Parameters))
	return pkg, nil
}

// Store builds a time-indexed parameter store from the package's parameter
// declarations.
func (p *Package) Store() *params.Store {
	store := params.NewStore()
	for _, param := range p.Parameters {
		for _, dv := range param.Values {
			store.Set(param.Path, dv.From, dv.Value)
		}
	}
	return store
}

// expressionSource slices the raw text of an expression out of its file.
func expressionSource(fileBytes []byte, expr hcl.Expression) (string, error) {
	rng := expr.Range()
	if rng.Start.Byte < 0 || rng.End.Byte > len(fileBytes) || rng.Start.Byte > rng.End.Byte {
		return "", fmt.Errorf("formula range %s is outside the file", rng)
	}
	return string(fileBytes[rng.Start.Byte:rng.End.Byte]), nil
}

// parameterHistory normalizes a parameter block into a dated value history.
// A bare `value` attribute is shorthand for a single entry applying from the
// beginning of time.
func parameterHistory(p *parameterBlock) ([]params.DatedValue, error) {
	switch {
	case p.Value != nil && p.Values != nil:
		return nil, fmt.Errorf("declare either value or values, not both")
	case p.Value != nil:
		if !p.Value.Type().IsPrimitiveType() {
			return nil, fmt.Errorf("value must be a scalar")
		}
		return []params.DatedValue{{Value: *p.Value}}, nil
	case p.Values != nil:
		if !p.Values.Type().IsObjectType() && !p.Values.Type().IsMapType() {
			return nil, fmt.Errorf("values must map start dates to scalars")
		}
		var history []params.DatedValue
		for dateStr, val := range p.Values.AsValueMap() {
			from, err := time.Parse(params.DateLayout, dateStr)
			if err != nil {
				return nil, fmt.Errorf("invalid start date %q", dateStr)
			}
			if !val.Type().IsPrimitiveType() {
				return nil, fmt.Errorf("value at %s must be a scalar", dateStr)
			}
			history = append(history, params.DatedValue{From: from, Value: val})
		}
		return history, nil
	default:
		return nil, fmt.Errorf("missing value or values")
	}
}
