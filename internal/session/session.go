// Package session holds the mutable state of one compilation: registered
// input variables, derived variables, and frozen parameters, in registration
// order. The dependency graph is built incrementally as variables register;
// validation, ordering, and rendering happen when the caller asks for a plan
// or the generated artifact. A session has no ambient state and is
// disposable after generation.
package session

import (
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rulec/internal/codegen"
	"github.com/vk/rulec/internal/formula"
	"github.com/vk/rulec/internal/graph"
	"github.com/vk/rulec/internal/params"
)

// InputVariable is a caller-supplied value with a default.
type InputVariable struct {
	Name    string
	Default cty.Value
}

// DerivedVariable is a formula-computed value. Deps and ParamPaths are
// either extracted from the formula source or trusted from an explicit
// declaration.
type DerivedVariable struct {
	Name       string
	Source     string
	Deps       []string
	ParamPaths []string

	analysis *formula.Analysis
}

// FrozenParameter is a parameter value captured at the session's as-of date.
// Once captured it never changes for the rest of the session.
type FrozenParameter struct {
	Path  string
	Value cty.Value
}

// Session is the compilation session. It is not safe for concurrent use;
// callers needing parallel compilations use independent sessions.
type Session struct {
	resolver params.Resolver
	asOf     time.Time
	dialect  formula.Dialect

	graph   *graph.Graph
	inputs  []*InputVariable
	derived []*DerivedVariable

	frozen       []*FrozenParameter
	frozenByPath map[string]*FrozenParameter
}

// Option customizes a Session.
type Option func(*Session)

// WithDialect overrides the formula dialect accepted by the session.
func WithDialect(d formula.Dialect) Option {
	return func(s *Session) { s.dialect = d }
}

// New creates a session that freezes parameter values through resolver at
// the given as-of date.
func New(resolver params.Resolver, asOf time.Time, opts ...Option) *Session {
	s := &Session{
		resolver:     resolver,
		asOf:         asOf,
		dialect:      formula.DefaultDialect(),
		graph:        graph.New(),
		frozenByPath: make(map[string]*FrozenParameter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput registers a caller-supplied variable with its default value.
// The default must be a known scalar so it can be rendered as a literal.
func (s *Session) RegisterInput(name string, def cty.Value) error {
	if def == cty.NilVal || def.IsNull() {
		return fmt.Errorf("input %q: default must be a scalar, got null", name)
	}
	if !def.Type().IsPrimitiveType() {
		return fmt.Errorf("input %q: default must be a scalar, got %s", name, def.Type().FriendlyName())
	}
	if err := s.graph.Add(name, graph.KindInput); err != nil {
		return err
	}
	s.inputs = append(s.inputs, &InputVariable{Name: name, Default: def})
	return nil
}

// RegisterDerived registers a formula-computed variable. The formula source
// is analyzed immediately; unsupported constructs fail here, naming the
// variable. When declaredDeps is non-empty it is trusted as the dependency
// set instead of the extracted one (parameter paths are always extracted).
func (s *Session) RegisterDerived(name, source string, declaredDeps []string) error {
	analysis, err := formula.Analyze(source, s.dialect)
	if err != nil {
		return fmt.Errorf("variable %q: %w", name, err)
	}

	if err := s.graph.Add(name, graph.KindDerived); err != nil {
		return err
	}

	deps := analysis.Variables
	if len(declaredDeps) > 0 {
		deps = declaredDeps
	}
	if err := s.graph.AddDeps(name, deps...); err != nil {
		return err
	}

	s.derived = append(s.derived, &DerivedVariable{
		Name:       name,
		Source:     source,
		Deps:       deps,
		ParamPaths: analysis.Parameters,
		analysis:   analysis,
	})
	return nil
}

// RegisterParameter captures the value for a dotted path at the session's
// as-of date. The value is frozen: registering the same path twice fails
// with a duplicate-registration error, and an unresolvable path surfaces the
// resolver's error untouched. Returns the frozen value.
func (s *Session) RegisterParameter(path string) (cty.Value, error) {
	if _, ok := s.frozenByPath[path]; ok {
		return cty.NilVal, &graph.DuplicateError{Name: path}
	}
	val, err := s.resolver.Resolve(path, s.asOf)
	if err != nil {
		return cty.NilVal, err
	}
	frozen := &FrozenParameter{Path: path, Value: val}
	s.frozen = append(s.frozen, frozen)
	s.frozenByPath[path] = frozen
	return val, nil
}

// PlanEntry describes one derived variable's place in the evaluation order.
type PlanEntry struct {
	Name string
	Deps []string
}

// Plan validates the graph, checks for cycles, and returns the topological
// evaluation order. It is recomputed from session state on every call and
// never emits partial results: the first error aborts.
func (s *Session) Plan() ([]PlanEntry, error) {
	if err := s.graph.Validate(); err != nil {
		return nil, err
	}
	if err := s.graph.DetectCycles(); err != nil {
		return nil, err
	}

	byName := make(map[string]*DerivedVariable, len(s.derived))
	for _, d := range s.derived {
		byName[d.Name] = d
		for _, path := range d.ParamPaths {
			if _, ok := s.frozenByPath[path]; !ok {
				return nil, fmt.Errorf("variable %q references parameter %q, which was never registered", d.Name, path)
			}
		}
	}

	order := s.graph.Sort()
	entries := make([]PlanEntry, 0, len(order))
	for _, name := range order {
		entries = append(entries, PlanEntry{Name: name, Deps: byName[name].Deps})
	}
	return entries, nil
}

// Inputs returns the registered input variables in registration order.
func (s *Session) Inputs() []*InputVariable {
	return s.inputs
}

// Parameters returns the frozen parameters in registration order.
func (s *Session) Parameters() []*FrozenParameter {
	return s.frozen
}

// AsOf returns the date parameter values are frozen at.
func (s *Session) AsOf() time.Time {
	return s.asOf
}

// Generate validates the session and renders the standalone artifact. It is
// a pure function of session state: repeated calls on an unmodified session
// return byte-identical text.
func (s *Session) Generate(opts codegen.Options) (string, error) {
	plan, err := s.Plan()
	if err != nil {
		return "", err
	}

	byName := make(map[string]*DerivedVariable, len(s.derived))
	for _, d := range s.derived {
		byName[d.Name] = d
	}

	mod := codegen.Module{AsOf: s.asOf, Parameters: make(map[string]cty.Value, len(s.frozen))}
	for _, in := range s.inputs {
		mod.Inputs = append(mod.Inputs, codegen.Input{Name: in.Name, Default: in.Default})
	}
	for _, entry := range plan {
		d := byName[entry.Name]
		mod.Formulas = append(mod.Formulas, codegen.Formula{
			Name:     d.Name,
			Source:   d.Source,
			Analysis: d.analysis,
		})
	}
	for _, p := range s.frozen {
		mod.Parameters[p.Path] = p.Value
	}

	return codegen.Render(mod, opts)
}
