package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/vk/rulec/internal/codegen"
	"github.com/vk/rulec/internal/ctxlog"
	"github.com/vk/rulec/internal/formula"
	"github.com/vk/rulec/internal/params"
	"github.com/vk/rulec/internal/rules"
	"github.com/vk/rulec/internal/session"
)

// App encapsulates the compiler's driving layer: configuration, logging,
// and the artifact destination.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
}

// NewApp constructs the application. The artifact (or the dry-run plan) is
// written to outW; logs go to errW so a stdout artifact stays clean.
func NewApp(outW, errW io.Writer, config *Config) *App {
	return &App{
		outW:   outW,
		logger: newLogger(config.LogLevel, config.LogFormat, errW),
		config: config,
	}
}

// Run performs one compilation: load the rule package, select the targets
// and their transitive dependencies, register everything on a fresh session,
// and generate.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	cfg := a.config

	pkg, err := rules.Load(ctx, cfg.RulesPath)
	if err != nil {
		return err
	}

	resolver, err := a.buildResolver(pkg)
	if err != nil {
		return err
	}

	selected, err := selectVariables(pkg, cfg.Targets)
	if err != nil {
		return err
	}
	a.logger.Info("Selected variables for compilation.",
		"inputs", len(selected.inputs), "derived", len(selected.variables), "parameters", len(selected.paramPaths))

	sess := session.New(resolver, cfg.AsOf())
	for _, in := range selected.inputs {
		if err := sess.RegisterInput(in.Name, in.Default); err != nil {
			return err
		}
	}
	for _, v := range selected.variables {
		if err := sess.RegisterDerived(v.Name, v.Source, v.DependsOn); err != nil {
			return err
		}
	}
	for _, path := range selected.paramPaths {
		if _, err := sess.RegisterParameter(path); err != nil {
			return err
		}
	}

	if cfg.DryRun {
		return a.printPlan(sess)
	}

	artifact, err := sess.Generate(codegen.Options{Format: cfg.Format, JSDoc: true})
	if err != nil {
		return err
	}

	if cfg.OutputPath != "" {
		if err := os.WriteFile(cfg.OutputPath, []byte(artifact), 0o644); err != nil {
			return fmt.Errorf("writing artifact: %w", err)
		}
		a.logger.Info("Artifact written.", "path", cfg.OutputPath, "bytes", len(artifact))
		return nil
	}

	_, err = io.WriteString(a.outW, artifact)
	return err
}

// buildResolver assembles the parameter resolver: the package's own
// time-indexed store, optionally overlaid with a reform document.
func (a *App) buildResolver(pkg *rules.Package) (params.Resolver, error) {
	var resolver params.Resolver = pkg.Store()

	if a.config.ReformPath != "" {
		data, err := os.ReadFile(a.config.ReformPath)
		if err != nil {
			return nil, fmt.Errorf("reading reform document: %w", err)
		}
		reform, err := params.ParseReform(data)
		if err != nil {
			return nil, err
		}
		resolver = params.NewOverlay(resolver, reform)
		a.logger.Info("Reform overrides applied.", "paths", len(reform))
	}

	return resolver, nil
}

// selection is the subset of a rule package needed for the requested
// targets, in package declaration order.
type selection struct {
	inputs     []*rules.Input
	variables  []*rules.Variable
	paramPaths []string
}

// selectVariables resolves the target names to the transitive closure of
// inputs, derived variables, and referenced parameter paths. An empty target
// list selects the whole package.
func selectVariables(pkg *rules.Package, targets []string) (*selection, error) {
	inputsByName := make(map[string]*rules.Input, len(pkg.Inputs))
	for _, in := range pkg.Inputs {
		inputsByName[in.Name] = in
	}
	varsByName := make(map[string]*rules.Variable, len(pkg.Variables))
	for _, v := range pkg.Variables {
		varsByName[v.Name] = v
	}

	// Analyses are computed once per variable; the session re-analyzes at
	// registration, but this pass needs dependency and parameter sets up
	// front to walk the closure.
	analyses := make(map[string]*formula.Analysis, len(pkg.Variables))
	dialect := formula.DefaultDialect()
	analyze := func(v *rules.Variable) (*formula.Analysis, error) {
		if a, ok := analyses[v.Name]; ok {
			return a, nil
		}
		a, err := formula.Analyze(v.Source, dialect)
		if err != nil {
			return nil, fmt.Errorf("variable %q at %s: %w", v.Name, v.DeclRange, err)
		}
		analyses[v.Name] = a
		return a, nil
	}

	needed := make(map[string]bool)
	if len(targets) == 0 {
		for _, in := range pkg.Inputs {
			needed[in.Name] = true
		}
		for _, v := range pkg.Variables {
			needed[v.Name] = true
			if _, err := analyze(v); err != nil {
				return nil, err
			}
		}
	} else {
		queue := make([]string, 0, len(targets))
		for _, t := range targets {
			if _, ok := inputsByName[t]; !ok {
				if _, ok := varsByName[t]; !ok {
					return nil, fmt.Errorf("unknown target variable %q", t)
				}
			}
			queue = append(queue, t)
		}
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			if needed[name] {
				continue
			}
			needed[name] = true

			v, ok := varsByName[name]
			if !ok {
				continue // input, or unregistered: the session reports the latter
			}
			deps := v.DependsOn
			if len(deps) == 0 {
				a, err := analyze(v)
				if err != nil {
					return nil, err
				}
				deps = a.Variables
			} else if _, err := analyze(v); err != nil {
				return nil, err
			}
			for _, dep := range deps {
				if !needed[dep] {
					queue = append(queue, dep)
				}
			}
		}
	}

	sel := &selection{}
	paramSet := make(map[string]struct{})
	for _, in := range pkg.Inputs {
		if needed[in.Name] {
			sel.inputs = append(sel.inputs, in)
		}
	}
	for _, v := range pkg.Variables {
		if !needed[v.Name] {
			continue
		}
		sel.variables = append(sel.variables, v)
		for _, path := range analyses[v.Name].Parameters {
			paramSet[path] = struct{}{}
		}
	}
	for path := range paramSet {
		sel.paramPaths = append(sel.paramPaths, path)
	}
	sort.Strings(sel.paramPaths)
	return sel, nil
}

// printPlan writes the compilation plan in evaluation order.
func (a *App) printPlan(sess *session.Session) error {
	plan, err := sess.Plan()
	if err != nil {
		return err
	}

	fmt.Fprintln(a.outW, "Variables to compile:")
	for _, in := range sess.Inputs() {
		fmt.Fprintf(a.outW, "  %s: input\n", in.Name)
	}
	for _, entry := range plan {
		deps := "(none)"
		if len(entry.Deps) > 0 {
			deps = strings.Join(entry.Deps, ", ")
		}
		fmt.Fprintf(a.outW, "  %s: depends on [%s]\n", entry.Name, deps)
	}
	for _, p := range sess.Parameters() {
		fmt.Fprintf(a.outW, "  parameter %s (frozen as of %s)\n", p.Path, sess.AsOf().Format(params.DateLayout))
	}
	return nil
}
