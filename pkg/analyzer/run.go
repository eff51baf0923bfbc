// Package analyzer computes which capability members a class requires and
// which it only uses optionally, and rewrites its method bodies so that
// optional uses of missing capabilities are dropped and required uses of them
// fail with a guard.
//
// Analysis proceeds in phases over the classes passed to Run.Analyze: every
// method body is visited and its calls resolved depth first, then required
// roots propagate through the call graph, then dependencies are classified by
// the final counters, and finally rewritten bodies are emitted.
package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/oracle"
	"github.com/715d/capdeps/pkg/ref"
)

// Propagation selects how often a unit reachable over several paths is
// counted by one propagation.
type Propagation int

const (
	// PropagateOnce counts each reachable unit once per propagation.
	PropagateOnce Propagation = iota

	// PropagatePerPath counts a unit once for every acyclic path reaching it.
	PropagatePerPath
)

func (p Propagation) String() string {
	if p == PropagatePerPath {
		return "per-path"
	}
	return "once"
}

// ParsePropagation parses "once" or "per-path".
func ParsePropagation(s string) (Propagation, error) {
	switch strings.ToLower(s) {
	case "", "once":
		return PropagateOnce, nil
	case "per-path", "perpath":
		return PropagatePerPath, nil
	}
	return 0, fmt.Errorf("unknown propagation mode %q", s)
}

// Options configures a Run.
type Options struct {
	Propagation Propagation

	// RequiredRoot reports whether a method of unit is an entry point whose
	// dependencies are required. Defaults to public methods.
	RequiredRoot func(unit string, m *ir.Method) bool

	// Hooks are checked for CandidateHook, ReferenceHookFactory, MethodHook
	// and oracle.Checker.
	Hooks []any

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Resolution is the outcome of resolving a callee. Pending is set when the
// callee is still being analysed further up the stack; Analysis is nil then.
type Resolution struct {
	Analysis *UnitAnalysis
	Pending  bool
}

// Run is one analysis session. Analyses are shared between all classes
// analysed by the same run. A Run is not safe for concurrent use.
type Run struct {
	ID uuid.UUID

	loader ir.Loader
	oracle oracle.Oracle
	opts   Options
	log    *slog.Logger
	ctx    *Context

	candidates  []CandidateHook
	checkers    []oracle.Checker
	factories   []ReferenceHookFactory
	methodHooks []MethodHook

	cache   map[ref.Reference]*UnitAnalysis
	classes map[string]*classAnalyzer
	results map[string]*ClassResult
	err     error
}

// New returns a run resolving bodies through loader and implementation
// through o.
func New(loader ir.Loader, o oracle.Oracle, opts Options) *Run {
	r := &Run{
		ID:      uuid.New(),
		loader:  loader,
		oracle:  o,
		opts:    opts,
		cache:   make(map[ref.Reference]*UnitAnalysis),
		classes: make(map[string]*classAnalyzer),
		results: make(map[string]*ClassResult),
	}
	r.log = opts.Logger
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("run", r.ID.String())
	r.ctx = &Context{run: r}

	for _, h := range opts.Hooks {
		if c, ok := h.(CandidateHook); ok {
			r.candidates = append(r.candidates, c)
		}
		if c, ok := h.(oracle.Checker); ok {
			r.checkers = append(r.checkers, c)
		}
		if f, ok := h.(ReferenceHookFactory); ok {
			r.factories = append(r.factories, f)
		}
		if m, ok := h.(MethodHook); ok {
			r.methodHooks = append(r.methodHooks, m)
		}
	}
	return r
}

// Analyze analyses units and returns their results in the same order. Units
// analysed by an earlier call return the cached result. An analysis error
// aborts the run; every later call returns ErrAborted.
func (r *Run) Analyze(units ...*ir.Unit) ([]*ClassResult, error) {
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, r.err)
	}

	var fresh []*classAnalyzer
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if _, ok := r.results[u.Name]; ok || seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		c := r.class(u.Name)
		c.unit = u
		fresh = append(fresh, c)
	}

	for _, c := range fresh {
		r.log.Debug("visiting class", "class", c.name, "methods", len(c.unit.Methods))
		for _, m := range c.unit.Methods {
			if _, err := c.local(m); err != nil {
				r.err = err
				return nil, err
			}
		}
	}

	for _, c := range fresh {
		c.postAnalyze()
	}

	for _, c := range fresh {
		c.deps.classify(func(owner ref.Reference) *UnitAnalysis {
			return r.cache[owner]
		})
	}

	for _, c := range fresh {
		res := c.emit()
		r.results[c.name] = res
		r.log.Debug("analysed class", "class", c.name, "dependencies", len(res.Dependencies), "groups", len(res.Groups))
	}

	out := make([]*ClassResult, len(units))
	for i, u := range units {
		out[i] = r.results[u.Name]
	}
	return out, nil
}

// Result returns the result of an analysed class.
func (r *Run) Result(class string) (*ClassResult, bool) {
	res, ok := r.results[class]
	return res, ok
}

// Lookup returns the analysis of a member, if the run has one.
func (r *Run) Lookup(target ref.Reference) (*UnitAnalysis, bool) {
	a, ok := r.cache[target]
	return a, ok
}

// Oracle returns the implementation oracle as the run sees it, with hooks
// consulted before the underlying oracle.
func (r *Run) Oracle() oracle.Oracle {
	return oracle.Func(r.isImplemented)
}

// Rewrite returns a copy of p with every analysed class replaced by its
// rewritten form.
func (r *Run) Rewrite(p *ir.Program) (*ir.Program, error) {
	units := make([]*ir.Unit, len(p.Units))
	for i, u := range p.Units {
		if res, ok := r.results[u.Name]; ok {
			units[i] = res.Unit
			continue
		}
		units[i] = u.Clone()
	}
	return ir.NewProgram(units...)
}

func (r *Run) class(name string) *classAnalyzer {
	c, ok := r.classes[name]
	if !ok {
		c = &classAnalyzer{
			run:     r,
			name:    name,
			deps:    &Set{},
			methods: make(map[ref.Reference]*methodState),
		}
		r.classes[name] = c
	}
	return c
}

// resolve returns the analysis of a callee, analysing it first if needed.
// Members without a body, or with an empty one, get a partial stub that a
// later resolve supersedes once the body becomes loadable.
func (r *Run) resolve(target ref.Reference) (Resolution, error) {
	if target.IsField() {
		return Resolution{Analysis: r.stub(target)}, nil
	}

	if a, ok := r.cache[target]; ok {
		if a.state == stateActive {
			return Resolution{Pending: true}, nil
		}
		if !a.Partial {
			return Resolution{Analysis: a}, nil
		}
	}

	m, ok := r.body(target)
	if !ok {
		return Resolution{Analysis: r.stub(target)}, nil
	}
	a, err := r.class(target.Owner).visit(target, m)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Analysis: a}, nil
}

func (r *Run) body(target ref.Reference) (*ir.Method, bool) {
	if c, ok := r.classes[target.Owner]; ok && c.unit != nil {
		if m := c.unit.Method(target.Name, target.Desc); m != nil && m.Static == target.Static {
			return m, len(m.Body) > 0
		}
	}
	if r.loader == nil {
		return nil, false
	}
	m, ok := r.loader.BodyOf(target)
	if !ok || len(m.Body) == 0 {
		return nil, false
	}
	return m, true
}

func (r *Run) stub(target ref.Reference) *UnitAnalysis {
	if a, ok := r.cache[target]; ok {
		return a
	}
	a := newUnitAnalysis(target)
	a.Partial = true
	a.state = stateVisited
	r.cache[target] = a
	return a
}

func (r *Run) isCandidate(target ref.Reference) bool {
	for _, h := range r.candidates {
		if candidate, ok := h.IsDependencyCandidate(r.ctx, target); ok {
			return candidate
		}
	}
	return false
}

func (r *Run) isImplemented(target ref.Reference) bool {
	if len(r.checkers) > 0 {
		var provider string
		if p, ok := r.oracle.(interface {
			Provider(string) (string, bool)
		}); ok {
			provider, _ = p.Provider(target.Owner)
		}
		for _, c := range r.checkers {
			if implemented, ok := c.CheckImplemented(target, provider); ok {
				return implemented
			}
		}
	}
	return r.oracle.IsImplemented(target)
}

func (r *Run) allImplemented(targets []ref.Reference) bool {
	for _, t := range targets {
		if !r.isImplemented(t) {
			return false
		}
	}
	return true
}

func (r *Run) isRoot(unit string, m *ir.Method) bool {
	if r.opts.RequiredRoot != nil {
		return r.opts.RequiredRoot(unit, m)
	}
	return m.Public
}

// ClassResult is the outcome of analysing one class.
type ClassResult struct {
	// Unit is the rewritten class.
	Unit *ir.Unit

	// Dependencies holds one entry per capability member the class uses,
	// sorted by target.
	Dependencies []Direct

	// Groups holds the requireOneOf sites in visit order.
	Groups []*OneOf
}

// Required returns the targets of the required dependencies.
func (c *ClassResult) Required() []ref.Reference {
	return c.targets(false)
}

// Optional returns the targets of the optional dependencies.
func (c *ClassResult) Optional() []ref.Reference {
	return c.targets(true)
}

func (c *ClassResult) targets(optional bool) []ref.Reference {
	var out []ref.Reference
	for _, d := range c.Dependencies {
		if d.Optional == optional {
			out = append(out, d.Target)
		}
	}
	return out
}

// Missing returns the required dependencies that o reports unimplemented.
func (c *ClassResult) Missing(o oracle.Oracle) []ref.Reference {
	var out []ref.Reference
	for _, t := range c.Required() {
		if !o.IsImplemented(t) {
			out = append(out, t)
		}
	}
	return out
}

// AllImplemented reports whether every required dependency is implemented
// and every requireOneOf site had an implemented alternative.
func (c *ClassResult) AllImplemented(o oracle.Oracle) bool {
	if len(c.Missing(o)) > 0 {
		return false
	}
	for _, g := range c.Groups {
		if !g.Satisfied {
			return false
		}
	}
	return true
}

// IsAnalysisError reports whether err came from a failed method analysis.
func IsAnalysisError(err error) bool {
	var aerr *Error
	return errors.As(err, &aerr)
}
