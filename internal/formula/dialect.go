package formula

// Dialect describes the formula surface the analyzer accepts: which call
// names denote entity lookups, parameter access, aggregations, and plain
// scalar functions (with their JavaScript spellings for the generator).
type Dialect struct {
	// EntityFunctions are call names of the form entity("name", period)
	// that reference another variable's value.
	EntityFunctions map[string]struct{}

	// ParameterFunctions are call names whose result is traversed with
	// dotted segments to reference a parameter path, e.g.
	// param(period).gov.tax.rate.
	ParameterFunctions map[string]struct{}

	// AggregateFunctions are multi-entity aggregation call names. They
	// cannot be translated into a flat calculator and always fail analysis.
	AggregateFunctions map[string]struct{}

	// ScalarFunctions maps accepted scalar function names to the expression
	// the generator renders them as.
	ScalarFunctions map[string]string
}

// DefaultDialect returns the dialect accepted when the caller does not
// provide one.
func DefaultDialect() Dialect {
	return Dialect{
		EntityFunctions: set(
			"person", "household", "tax_unit", "family", "benunit", "entity",
		),
		ParameterFunctions: set("param", "parameters"),
		AggregateFunctions: set("add", "sum", "any", "all"),
		ScalarFunctions: map[string]string{
			"max":   "Math.max",
			"min":   "Math.min",
			"abs":   "Math.abs",
			"floor": "Math.floor",
			"ceil":  "Math.ceil",
			"round": "Math.round",
			"sqrt":  "Math.sqrt",
			"exp":   "Math.exp",
			"log":   "Math.log",
			"pow":   "Math.pow",
			"where": "where",
		},
	}
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
