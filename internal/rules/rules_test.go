package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rulec/internal/params"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	content := `
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
  formula    = taxable_income * param(period).gov.tax.rate
  depends_on = ["taxable_income"]
}

parameter "gov.tax.rate" {
  values = {
    "2020-01-01" = 0.19
    "2024-01-01" = 0.2
  }
}

parameter "gov.tax.allowance" {
  value = 12570
}
`
	dir := t.TempDir()
	writeRuleFile(t, dir, "tax.hcl", content)

	pkg, err := Load(context.Background(), dir)
	require.NoError(t, err)

	t.Run("inputs", func(t *testing.T) {
		require.Len(t, pkg.Inputs, 2)
		assert.Equal(t, "gross_income", pkg.Inputs[0].Name)
		assert.True(t, pkg.Inputs[0].Default.RawEquals(cty.NumberIntVal(0)))
	})

	t.Run("formula source is the author's exact text", func(t *testing.T) {
		require.Len(t, pkg.Variables, 2)
		assert.Equal(t, "taxable_income", pkg.Variables[0].Name)
		assert.Equal(t, "max(gross_income - pension_contributions, 0)", pkg.Variables[0].Source)
		assert.Equal(t, "taxable_income * param(period).gov.tax.rate", pkg.Variables[1].Source)
	})

	t.Run("declaration range points at the formula", func(t *testing.T) {
		rng := pkg.Variables[0].DeclRange
		assert.Equal(t, "tax.hcl", filepath.Base(rng.Filename))
		assert.Equal(t, 11, rng.Start.Line)
	})

	t.Run("depends_on is carried through", func(t *testing.T) {
		assert.Empty(t, pkg.Variables[0].DependsOn)
		assert.Equal(t, []string{"taxable_income"}, pkg.Variables[1].DependsOn)
	})

	t.Run("parameter histories", func(t *testing.T) {
		require.Len(t, pkg.Parameters, 2)
		assert.Equal(t, "gov.tax.rate", pkg.Parameters[0].Path)
		assert.Len(t, pkg.Parameters[0].Values, 2)

		require.Len(t, pkg.Parameters[1].Values, 1)
		assert.True(t, pkg.Parameters[1].Values[0].From.IsZero(), "bare value applies from the beginning of time")
	})

	t.Run("store resolves by date", func(t *testing.T) {
		store := pkg.Store()

		at := func(s string) time.Time {
			d, err := time.Parse(params.DateLayout, s)
			require.NoError(t, err)
			return d
		}

		val, err := store.Resolve("gov.tax.rate", at("2026-01-01"))
		require.NoError(t, err)
		assert.True(t, val.RawEquals(cty.NumberFloatVal(0.2)))

		val, err = store.Resolve("gov.tax.rate", at("2022-01-01"))
		require.NoError(t, err)
		assert.True(t, val.RawEquals(cty.NumberFloatVal(0.19)))
	})
}

func TestLoad_MultipleFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeRuleFile(t, dir, "a.hcl", `
input "income" {
  default = 0
}
`)
	writeRuleFile(t, dir, "b.hcl", `
variable "net" {
  formula = income * 0.9
}
`)
	writeRuleFile(t, dir, "notes.txt", "ignored")

	pkg, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, pkg.Inputs, 1)
	assert.Len(t, pkg.Variables, 1)
}

func TestLoad_SingleFilePath(t *testing.T) {
	t.Parallel()

	path := writeRuleFile(t, t.TempDir(), "only.hcl", `
input "income" {
  default = 0
}
`)
	pkg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, pkg.Inputs, 1)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no rule files", func(t *testing.T) {
		_, err := Load(context.Background(), t.TempDir())
		assert.ErrorContains(t, err, "no .hcl rule files found")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
		assert.ErrorContains(t, err, "error accessing path")
	})

	t.Run("parse failure", func(t *testing.T) {
		path := writeRuleFile(t, t.TempDir(), "broken.hcl", `input "x" {`)
		_, err := Load(context.Background(), path)
		assert.ErrorContains(t, err, "failed to parse rule file")
	})

	t.Run("value and values are mutually exclusive", func(t *testing.T) {
		path := writeRuleFile(t, t.TempDir(), "p.hcl", `
parameter "gov.rate" {
  value  = 0.2
  values = { "2024-01-01" = 0.25 }
}
`)
		_, err := Load(context.Background(), path)
		assert.ErrorContains(t, err, "either value or values, not both")
	})

	t.Run("parameter with neither value nor values", func(t *testing.T) {
		path := writeRuleFile(t, t.TempDir(), "p.hcl", `
parameter "gov.rate" {
}
`)
		_, err := Load(context.Background(), path)
		assert.ErrorContains(t, err, "missing value or values")
	})

	t.Run("bad start date", func(t *testing.T) {
		path := writeRuleFile(t, t.TempDir(), "p.hcl", `
parameter "gov.rate" {
  values = { "someday" = 0.2 }
}
`)
		_, err := Load(context.Background(), path)
		assert.ErrorContains(t, err, "invalid start date")
	})

	t.Run("non-scalar value", func(t *testing.T) {
		path := writeRuleFile(t, t.TempDir(), "p.hcl", `
parameter "gov.brackets" {
  value = [0.2, 0.4]
}
`)
		_, err := Load(context.Background(), path)
		assert.ErrorContains(t, err, "must be a scalar")
	})
}
