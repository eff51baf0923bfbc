// Package capdeps loads programs and runs the capability dependency analysis
// over them.
package capdeps

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/715d/capdeps/pkg/analyzer"
	"github.com/715d/capdeps/pkg/directive"
	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/oracle"
	"github.com/715d/capdeps/pkg/ref"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	Propagation analyzer.Propagation

	// ImplementedByDefault treats members of non-capability owners as
	// implemented.
	ImplementedByDefault bool

	// Roots are required roots in addition to public methods and
	// //capdeps:required directives.
	Roots []ref.Reference

	// Trace logs every analysis event at debug level.
	Trace bool

	// Hooks are passed to the analyzer after the built-in ones.
	Hooks []any
}

// OptionsFromManifest returns the analyzer options a manifest asks for.
func OptionsFromManifest(m *Manifest) (AnalyzerOptions, error) {
	propagation, err := analyzer.ParsePropagation(m.Propagation)
	if err != nil {
		return AnalyzerOptions{}, err
	}
	roots, err := m.RootRefs()
	if err != nil {
		return AnalyzerOptions{}, err
	}
	return AnalyzerOptions{
		Propagation:          propagation,
		ImplementedByDefault: m.ImplementedByDefault,
		Roots:                roots,
	}, nil
}

// Analyzer runs analyses with fixed options.
type Analyzer struct {
	opts AnalyzerOptions
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	return &Analyzer{opts: opts}
}

// Analyze analyses the named classes of p, or every class that is not a
// capability when none are named.
func (a *Analyzer) Analyze(ctx context.Context, p *ir.Program, classes ...string) (*Report, error) {
	if p == nil || len(p.Units) == 0 {
		return nil, fmt.Errorf("no units provided")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	units, err := selectUnits(p, classes)
	if err != nil {
		return nil, err
	}

	table := oracle.FromProgram(p, oracle.Options{ImplementedByDefault: a.opts.ImplementedByDefault})
	cached := oracle.NewCached(table)
	directives := directive.Load(p.Units...)

	hooks := []any{
		analyzer.CapabilityHook{Capabilities: table},
		analyzer.FieldHook{Providers: table},
	}
	if a.opts.Trace {
		hooks = append(hooks, analyzer.TraceHook{})
	}
	hooks = append(hooks, a.opts.Hooks...)

	run := analyzer.New(ir.NewCachedLoader(p), cached, analyzer.Options{
		Propagation: a.opts.Propagation,
		Hooks:       hooks,
		RequiredRoot: func(unit string, m *ir.Method) bool {
			return directives.IsRoot(unit, m) || slices.Contains(a.opts.Roots, m.Ref(unit))
		},
	})

	results, err := run.Analyze(units...)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	rewritten, err := run.Rewrite(p)
	if err != nil {
		return nil, fmt.Errorf("assemble rewritten program: %w", err)
	}

	implemented := run.Oracle()
	report := &Report{RunID: run.ID.String(), Program: rewritten}
	for _, res := range results {
		report.Classes = append(report.Classes, classReport(res, implemented, directives))
	}
	slog.Debug("analysis complete", "run", report.RunID, "classes", len(report.Classes), "missing", len(report.Missing()))
	return report, nil
}

// AnalyzeAll analyses independent programs in parallel, one run each.
func (a *Analyzer) AnalyzeAll(ctx context.Context, programs []*ir.Program) ([]*Report, error) {
	reports := make([]*Report, len(programs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, p := range programs {
		g.Go(func() error {
			r, err := a.Analyze(ctx, p)
			if err != nil {
				return fmt.Errorf("program %d: %w", idx, err)
			}
			reports[idx] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func selectUnits(p *ir.Program, classes []string) ([]*ir.Unit, error) {
	if len(classes) == 0 {
		var units []*ir.Unit
		for _, u := range p.Units {
			if !u.Capability {
				units = append(units, u)
			}
		}
		return units, nil
	}
	units := make([]*ir.Unit, 0, len(classes))
	for _, name := range classes {
		u := p.Unit(name)
		if u == nil {
			return nil, fmt.Errorf("unknown unit %s", name)
		}
		units = append(units, u)
	}
	return units, nil
}

func classReport(res *analyzer.ClassResult, o oracle.Oracle, directives *directive.Set) ClassReport {
	c := ClassReport{
		Class:          res.Unit.Name,
		AllImplemented: res.AllImplemented(o),
		Groups:         res.Groups,
	}
	for _, d := range res.Dependencies {
		f := Finding{
			Class:       res.Unit.Name,
			Target:      d.Target.String(),
			Owner:       d.Owner.String(),
			Optional:    d.Optional,
			Implemented: o.IsImplemented(d.Target),
		}
		f.Suppressed, f.Reason = directives.IsSuppressed(d.Owner)
		c.Findings = append(c.Findings, f)
	}
	return c
}
