package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taxRules = `
input "gross_income" {
  default = 0
}

input "pension_contributions" {
  default = 0
}

variable "taxable_income" {
  formula = max(gross_income - pension_contributions, 0)
}

variable "tax" {
  formula = taxable_income * param(period).gov.tax.rate
}

variable "child_benefit" {
  formula = param(period).gov.benefit.child * 1
}

parameter "gov.tax.rate" {
  values = {
    "2020-01-01" = 0.19
    "2024-01-01" = 0.2
  }
}

parameter "gov.benefit.child" {
  value = 1331
}
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestConfig(t *testing.T, cfg Config) *Config {
	t.Helper()
	if cfg.Date == "" {
		cfg.Date = "2026-01-01"
	}
	config, err := NewConfig(cfg)
	require.NoError(t, err)
	return config
}

// runApp executes one compilation and returns stdout and stderr contents.
func runApp(t *testing.T, config *Config) (string, string, error) {
	t.Helper()
	var outW, errW bytes.Buffer
	err := NewApp(&outW, &errW, config).Run(context.Background())
	return outW.String(), errW.String(), err
}

func TestRun_CompilesWholePackage(t *testing.T) {
	t.Parallel()

	config := newTestConfig(t, Config{RulesPath: writeRules(t, taxRules)})
	out, logs, err := runApp(t, config)
	require.NoError(t, err)

	assert.Contains(t, out, "// Parameter values frozen as of 2026-01-01.")
	assert.Contains(t, out, "export function calculate({gross_income = 0, pension_contributions = 0} = {}) {")
	assert.Contains(t, out, "const taxable_income = Math.max(gross_income - pension_contributions, 0);")
	assert.Contains(t, out, "const tax = taxable_income * 0.2;")
	assert.Contains(t, out, "const child_benefit = 1331 * 1;")
	assert.NotContains(t, out, "param(")

	// Logs stay off stdout so the artifact can be piped.
	assert.NotContains(t, out, "level=")
	assert.Contains(t, logs, "Selected variables for compilation.")
}

func TestRun_AsOfDateSelectsParameterValue(t *testing.T) {
	t.Parallel()

	config := newTestConfig(t, Config{
		RulesPath: writeRules(t, taxRules),
		Targets:   []string{"tax"},
		Date:      "2022-06-15",
	})
	out, _, err := runApp(t, config)
	require.NoError(t, err)
	assert.Contains(t, out, "const tax = taxable_income * 0.19;")
	assert.Contains(t, out, "// Parameter values frozen as of 2022-06-15.")
}

func TestRun_TargetSelectionPrunesThePackage(t *testing.T) {
	t.Parallel()

	config := newTestConfig(t, Config{
		RulesPath: writeRules(t, taxRules),
		Targets:   []string{"taxable_income"},
	})
	out, _, err := runApp(t, config)
	require.NoError(t, err)

	assert.Contains(t, out, "const taxable_income =")
	assert.NotContains(t, out, "const tax =")
	assert.NotContains(t, out, "child_benefit")
}

func TestRun_UnknownTarget(t *testing.T) {
	t.Parallel()

	config := newTestConfig(t, Config{
		RulesPath: writeRules(t, taxRules),
		Targets:   []string{"ghost"},
	})
	_, _, err := runApp(t, config)
	assert.ErrorContains(t, err, `unknown target variable "ghost"`)
}

func TestRun_DryRunPrintsThePlan(t *testing.T) {
	t.Parallel()

	config := newTestConfig(t, Config{
		RulesPath: writeRules(t, taxRules),
		Targets:   []string{"tax"},
		DryRun:    true,
	})
	out, _, err := runApp(t, config)
	require.NoError(t, err)

	assert.Contains(t, out, "Variables to compile:")
	assert.Contains(t, out, "gross_income: input")
	assert.Contains(t, out, "taxable_income: depends on [gross_income, pension_contributions]")
	assert.Contains(t, out, "tax: depends on [taxable_income]")
	assert.Contains(t, out, "parameter gov.tax.rate (frozen as of 2026-01-01)")
	assert.NotContains(t, out, "export function")
}

func TestRun_ReformOverridesParameters(t *testing.T) {
	t.Parallel()

	reformPath := filepath.Join(t.TempDir(), "reform.json")
	require.NoError(t, os.WriteFile(reformPath, []byte(`{"gov.tax.rate": 0.25}`), 0o644))

	config := newTestConfig(t, Config{
		RulesPath:  writeRules(t, taxRules),
		Targets:    []string{"tax"},
		ReformPath: reformPath,
	})
	out, _, err := runApp(t, config)
	require.NoError(t, err)
	assert.Contains(t, out, "const tax = taxable_income * 0.25;")
}

func TestRun_WritesArtifactToFile(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "calc.js")
	config := newTestConfig(t, Config{
		RulesPath:  writeRules(t, taxRules),
		OutputPath: outputPath,
		Format:     "commonjs",
	})
	out, _, err := runApp(t, config)
	require.NoError(t, err)
	assert.Empty(t, out, "nothing goes to stdout when writing a file")

	artifact, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "module.exports = { calculate };")
}

func TestRun_ErrorPaths(t *testing.T) {
	t.Parallel()

	t.Run("unsupported formula names the declaration site", func(t *testing.T) {
		config := newTestConfig(t, Config{RulesPath: writeRules(t, `
variable "total" {
  formula = add(household, period, param(period).gov.benefit_list)
}
`)})
		_, _, err := runApp(t, config)
		assert.ErrorContains(t, err, `variable "total" at `)
		assert.ErrorContains(t, err, "rules.hcl:3")
	})

	t.Run("unfrozen parameter path", func(t *testing.T) {
		config := newTestConfig(t, Config{RulesPath: writeRules(t, `
variable "tax" {
  formula = 100 * param(period).gov.missing.rate
}
`)})
		_, _, err := runApp(t, config)
		assert.ErrorContains(t, err, `parameter "gov.missing.rate" has no value as of 2026-01-01`)
	})

	t.Run("cyclic variables", func(t *testing.T) {
		config := newTestConfig(t, Config{RulesPath: writeRules(t, `
variable "a" {
  formula = b + 1
}

variable "b" {
  formula = a + 1
}
`)})
		_, _, err := runApp(t, config)
		assert.ErrorContains(t, err, "cyclic dependency: a -> b -> a")
	})

	t.Run("non-scalar input default", func(t *testing.T) {
		config := newTestConfig(t, Config{RulesPath: writeRules(t, `
input "rates" {
  default = [1, 2]
}
`)})
		out, _, err := runApp(t, config)
		assert.ErrorContains(t, err, `input "rates": default must be a scalar`)
		assert.Empty(t, out, "no partial artifact on error")
	})

	t.Run("missing reform file", func(t *testing.T) {
		config := newTestConfig(t, Config{
			RulesPath:  writeRules(t, taxRules),
			ReformPath: filepath.Join(t.TempDir(), "nope.json"),
		})
		_, _, err := runApp(t, config)
		assert.ErrorContains(t, err, "reading reform document")
	})
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	t.Run("rules path is required", func(t *testing.T) {
		_, err := NewConfig(Config{})
		assert.ErrorContains(t, err, "RulesPath is a required configuration field")
	})

	t.Run("format defaults to esm", func(t *testing.T) {
		config, err := NewConfig(Config{RulesPath: "rules/"})
		require.NoError(t, err)
		assert.Equal(t, "esm", config.Format)
	})

	t.Run("invalid date", func(t *testing.T) {
		_, err := NewConfig(Config{RulesPath: "rules/", Date: "January 1st"})
		assert.ErrorContains(t, err, "invalid date")
	})

	t.Run("as-of defaults to midnight today", func(t *testing.T) {
		config, err := NewConfig(Config{RulesPath: "rules/"})
		require.NoError(t, err)
		asOf := config.AsOf()
		assert.Equal(t, 0, asOf.Hour())
		assert.Equal(t, 0, asOf.Minute())
	})
}
