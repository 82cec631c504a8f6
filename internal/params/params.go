// Package params resolves dotted parameter paths to scalar values at a
// chosen as-of date. The compilation session only sees the Resolver
// interface; the concrete time-indexed store and reform overlays live here
// so they can be swapped or mocked independently.
package params

import (
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// DateLayout is the wire format for as-of dates and value start dates.
const DateLayout = "2006-01-02"

// Resolver resolves a dotted parameter path to a scalar value as of a date.
// Implementations must be deterministic: the same path and date always yield
// the same value.
type Resolver interface {
	Resolve(path string, asOf time.Time) (cty.Value, error)
}

// UnresolvedError reports a path the resolver cannot produce a value for,
// either because the path is unknown or because no value is defined at the
// requested date.
type UnresolvedError struct {
	Path string
	AsOf time.Time
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("parameter %q has no value as of %s", e.Path, e.AsOf.Format(DateLayout))
}

// DatedValue is one step of a parameter's value history, applying from From
// onward until a later step supersedes it.
type DatedValue struct {
	From  time.Time
	Value cty.Value
}

// Store is an in-memory, time-indexed parameter store.
type Store struct {
	values map[string][]DatedValue
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[string][]DatedValue)}
}

// Set records a value applying from the given date. Entries per path are
// kept sorted by date; setting the same date twice replaces the value.
func (s *Store) Set(path string, from time.Time, value cty.Value) {
	entries := s.values[path]
	for i, entry := range entries {
		if entry.From.Equal(from) {
			entries[i].Value = value
			return
		}
	}
	entries = append(entries, DatedValue{From: from, Value: value})
	sort.Slice(entries, func(i, j int) bool { return entries[i].From.Before(entries[j].From) })
	s.values[path] = entries
}

// Paths returns every known path, sorted.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.values))
	for p := range s.values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolve returns the latest value dated at or before asOf. There is no
// implicit default: an unknown path or a date before the first entry yields
// UnresolvedError.
func (s *Store) Resolve(path string, asOf time.Time) (cty.Value, error) {
	entries, ok := s.values[path]
	if !ok {
		return cty.NilVal, &UnresolvedError{Path: path, AsOf: asOf}
	}
	resolved := cty.NilVal
	for _, entry := range entries {
		if entry.From.After(asOf) {
			break
		}
		resolved = entry.Value
	}
	if resolved == cty.NilVal {
		return cty.NilVal, &UnresolvedError{Path: path, AsOf: asOf}
	}
	return resolved, nil
}
