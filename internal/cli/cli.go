package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/rulec/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("rulec", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
rulec - compile rule packages into standalone JavaScript calculators.

Usage:
  rulec [options] [RULES_PATH]

Arguments:
  RULES_PATH
    Path to a single .hcl rule file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	rulesFlag := flagSet.String("rules", "", "Path to the rule file or directory.")
	rFlag := flagSet.String("r", "", "Path to the rule file or directory (shorthand).")
	variablesFlag := flagSet.String("variables", "", "Comma-separated target variables. Empty compiles the whole package.")
	vFlag := flagSet.String("v", "", "Comma-separated target variables (shorthand).")
	dateFlag := flagSet.String("date", "", "As-of date for parameter values, YYYY-MM-DD. Defaults to today.")
	outputFlag := flagSet.String("output", "", "Output file path. Writes to stdout when empty.")
	oFlag := flagSet.String("o", "", "Output file path (shorthand).")
	formatFlag := flagSet.String("format", "esm", "Artifact module format. Options: 'esm', 'commonjs' or 'iife'.")
	reformFlag := flagSet.String("reform", "", "Path to a JSON reform document with parameter overrides.")
	dryRunFlag := flagSet.Bool("dry-run", false, "Print the compilation plan instead of generating code.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *rulesFlag != "" {
		path = *rulesFlag
	} else if *rFlag != "" {
		path = *rFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	targetsRaw := *variablesFlag
	if targetsRaw == "" {
		targetsRaw = *vFlag
	}
	var targets []string
	for _, t := range strings.Split(targetsRaw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}

	outputPath := *outputFlag
	if outputPath == "" {
		outputPath = *oFlag
	}

	format := strings.ToLower(*formatFlag)
	switch format {
	case "esm", "commonjs", "iife":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid format: must be 'esm', 'commonjs' or 'iife'"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		RulesPath:  path,
		Targets:    targets,
		Date:       *dateFlag,
		OutputPath: outputPath,
		Format:     format,
		ReformPath: *reformFlag,
		DryRun:     *dryRunFlag,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
