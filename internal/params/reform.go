package params

import (
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Reform is a set of parameter overrides keyed by dotted path. Each entry is
// a value history like the store's own; a plain scalar override is a single
// step applying from the beginning of time.
type Reform map[string][]DatedValue

// ParseReform decodes a JSON reform document. Two shapes are accepted per
// path: a bare scalar, or an object keyed by start date:
//
//	{"gov.tax.rate": 0.25}
//	{"gov.tax.rate": {"2024-01-01": 0.25, "2026-01-01": 0.3}}
func ParseReform(data []byte) (Reform, error) {
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return nil, fmt.Errorf("parsing reform document: %w", err)
	}
	doc, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return nil, fmt.Errorf("parsing reform document: %w", err)
	}
	if !doc.Type().IsObjectType() {
		return nil, fmt.Errorf("reform document must be a JSON object keyed by parameter path")
	}

	reform := make(Reform)
	for path, val := range doc.AsValueMap() {
		if val.Type().IsObjectType() {
			history, err := parseHistory(path, val)
			if err != nil {
				return nil, err
			}
			reform[path] = history
			continue
		}
		if !val.Type().IsPrimitiveType() {
			return nil, fmt.Errorf("reform value for %q must be a scalar or a date-keyed object", path)
		}
		reform[path] = []DatedValue{{Value: val}}
	}
	return reform, nil
}

func parseHistory(path string, val cty.Value) ([]DatedValue, error) {
	var history []DatedValue
	for dateStr, stepVal := range val.AsValueMap() {
		from, err := time.Parse(DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("reform entry for %q: invalid date %q", path, dateStr)
		}
		if !stepVal.Type().IsPrimitiveType() {
			return nil, fmt.Errorf("reform entry for %q at %s must be a scalar", path, dateStr)
		}
		history = append(history, DatedValue{From: from, Value: stepVal})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].From.Before(history[j].From) })
	return history, nil
}

// Overlay layers reform overrides over a base resolver. A path with an
// applicable override resolves from the reform; anything else falls through
// to the base.
type Overlay struct {
	base   Resolver
	reform Reform
}

// NewOverlay wraps base with the given reform.
func NewOverlay(base Resolver, reform Reform) *Overlay {
	return &Overlay{base: base, reform: reform}
}

// Resolve implements Resolver.
func (o *Overlay) Resolve(path string, asOf time.Time) (cty.Value, error) {
	if history, ok := o.reform[path]; ok {
		resolved := cty.NilVal
		for _, entry := range history {
			if entry.From.After(asOf) {
				break
			}
			resolved = entry.Value
		}
		if resolved != cty.NilVal {
			return resolved, nil
		}
		// No step applies yet at this date; the base value stands.
	}
	return o.base.Resolve(path, asOf)
}
