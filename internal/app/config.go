package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/vk/rulec/internal/params"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	RulesPath  string   // .hcl rule file or directory
	Targets    []string // variables to compile; empty means the whole package
	Date       string   // as-of date for parameter values, YYYY-MM-DD; empty means today
	OutputPath string   // artifact destination; empty means stdout
	Format     string   // esm, commonjs or iife
	ReformPath string   // optional JSON reform document
	DryRun     bool

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.RulesPath == "" {
		return nil, errors.New("RulesPath is a required configuration field and cannot be empty")
	}
	if cfg.Format == "" {
		cfg.Format = "esm"
	}
	if cfg.Date != "" {
		if _, err := time.Parse(params.DateLayout, cfg.Date); err != nil {
			return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", cfg.Date)
		}
	}
	return &cfg, nil
}

// AsOf returns the date parameter values are frozen at, defaulting to the
// current day when none was configured.
func (c *Config) AsOf() time.Time {
	if c.Date == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	asOf, _ := time.Parse(params.DateLayout, c.Date) // validated by NewConfig
	return asOf
}
