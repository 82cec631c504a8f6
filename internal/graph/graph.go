// Package graph models the dependency graph between registered variables:
// registration with duplicate detection, validation of edge targets, cycle
// detection, and a deterministic topological order for code generation.
package graph

import (
	"fmt"
	"strings"
)

// Kind distinguishes externally supplied inputs from formula-derived
// variables.
type Kind int

const (
	// KindInput marks a variable whose value is supplied by the caller of
	// the generated artifact. Inputs are always available and take no part
	// in the ordering.
	KindInput Kind = iota

	// KindDerived marks a variable computed from a formula.
	KindDerived
)

func (k Kind) String() string {
	if k == KindInput {
		return "input"
	}
	return "derived"
}

// DuplicateError reports a second registration under an already-taken name.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate registration of %q", e.Name)
}

// MissingDependencyError reports an edge whose target was never registered.
type MissingDependencyError struct {
	Referrer string
	Missing  string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("variable %q depends on %q, which is not registered", e.Referrer, e.Missing)
}

// CycleError reports a dependency cycle. Path holds the full ordered cycle,
// closing on the repeated node, e.g. [A B A].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

type node struct {
	name  string
	kind  Kind
	index int // registration order
	deps  []string
}

// Graph is a mutable dependency graph keyed by variable name. It is built
// incrementally during registration; validation, cycle detection, and
// sorting are separate passes run at generation time.
type Graph struct {
	nodes map[string]*node
	order []string // names in registration order
}

// New returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Add registers a node. A second registration under the same name fails with
// DuplicateError regardless of kind.
func (g *Graph) Add(name string, kind Kind) error {
	if _, ok := g.nodes[name]; ok {
		return &DuplicateError{Name: name}
	}
	g.nodes[name] = &node{name: name, kind: kind, index: len(g.order)}
	g.order = append(g.order, name)
	return nil
}

// AddDeps records dependency edges for a registered node. Duplicate edges
// collapse; edge targets are checked later by Validate so formulas can
// reference variables registered after them.
func (g *Graph) AddDeps(name string, deps ...string) error {
	n, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("cannot add dependencies: node %q not registered", name)
	}
	for _, dep := range deps {
		if containsString(n.deps, dep) {
			continue
		}
		n.deps = append(n.deps, dep)
	}
	return nil
}

// Len reports the number of registered nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the recorded dependency names of a node, in the order
// they were added.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.deps))
	copy(out, n.deps)
	return out
}

// Validate confirms every dependency edge resolves to a registered node. It
// walks nodes in registration order so the reported error is deterministic.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				return &MissingDependencyError{Referrer: name, Missing: dep}
			}
		}
	}
	return nil
}

// DetectCycles runs a depth-first search with three-state marking. The
// returned CycleError carries the full ordered cycle path. Must pass before
// Sort is called; Sort assumes an acyclic graph.
func (g *Graph) DetectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		visiting[name] = true
		stack = append(stack, name)

		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				continue // Validate reports these.
			}
			if visiting[dep] {
				return &CycleError{Path: cyclePath(stack, dep)}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath slices the DFS stack from the first occurrence of the repeated
// node and closes the loop, e.g. stack [X A B] with repeat A yields [A B A].
func cyclePath(stack []string, repeat string) []string {
	start := 0
	for i, name := range stack {
		if name == repeat {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	path = append(path, stack[start:]...)
	path = append(path, repeat)
	return path
}

// Sort returns the derived variables in dependency order using Kahn's
// algorithm. Nodes that are mutually unordered keep their registration
// order, so repeated runs over identical registrations produce byte-stable
// output. Inputs are always available and are not part of the order.
//
// The graph must already have passed Validate and DetectCycles.
func (g *Graph) Sort() []string {
	remaining := make(map[string]int) // derived name -> unsatisfied derived deps
	var derived []string
	for _, name := range g.order {
		n := g.nodes[name]
		if n.kind != KindDerived {
			continue
		}
		derived = append(derived, name)
		count := 0
		for _, dep := range n.deps {
			if d, ok := g.nodes[dep]; ok && d.kind == KindDerived && dep != name {
				count++
			}
		}
		remaining[name] = count
	}

	// Each pass picks the first ready node in registration order. Quadratic,
	// but the registered variable sets are small and the scan keeps the
	// tie-break trivially correct.
	result := make([]string, 0, len(derived))
	done := make(map[string]bool)
	for len(result) < len(derived) {
		progressed := false
		for _, name := range derived {
			if done[name] || remaining[name] != 0 {
				continue
			}
			done[name] = true
			result = append(result, name)
			progressed = true
			for _, other := range derived {
				if done[other] {
					continue
				}
				if containsString(g.nodes[other].deps, name) {
					remaining[other]--
				}
			}
			break
		}
		if !progressed {
			// Unreachable after DetectCycles; avoid spinning regardless.
			break
		}
	}
	return result
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
