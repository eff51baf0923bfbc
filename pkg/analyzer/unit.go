package analyzer

import (
	"slices"

	"github.com/715d/capdeps/pkg/ref"
)

// Counter steps applied by propagation. An optional use outweighs a required
// one so a unit used both ways from one caller stays optional.
const (
	optionalStep = 2
	requiredStep = -1
)

type state uint8

const (
	stateNew state = iota
	stateActive
	stateVisited
	stateComplete
)

// UnitAnalysis is the analysis of one method or field.
type UnitAnalysis struct {
	// Ref is the analysed member.
	Ref ref.Reference

	// Required lists the dependencies seen while the unit was analysed,
	// including those folded in from callees.
	Required []ref.Reference

	// Counter is negative when the unit is net required and non-negative when
	// it is only reached optionally.
	Counter int

	// Partial is set for stubs: fields, and methods without a loadable or
	// non-empty body.
	Partial bool

	callees []*UnitAnalysis
	hooks   []ReferenceHook
	state   state
}

func newUnitAnalysis(r ref.Reference) *UnitAnalysis {
	return &UnitAnalysis{Ref: r}
}

// IsField reports whether the unit is a field.
func (a *UnitAnalysis) IsField() bool {
	return a.Ref.IsField()
}

// Complete reports whether the body was fully visited and post-analysis ran.
func (a *UnitAnalysis) Complete() bool {
	return a.state == stateComplete
}

// Callees returns the units reached from this one.
func (a *UnitAnalysis) Callees() []*UnitAnalysis {
	return slices.Clone(a.callees)
}

// AddHook attaches a reference hook to the unit.
func (a *UnitAnalysis) AddHook(h ReferenceHook) {
	a.hooks = append(a.hooks, h)
}

func (a *UnitAnalysis) addCallee(c *UnitAnalysis) {
	if c == nil || c == a || slices.Contains(a.callees, c) {
		return
	}
	a.callees = append(a.callees, c)
}

func (a *UnitAnalysis) addRequired(refs ...ref.Reference) {
	for _, r := range refs {
		if !slices.Contains(a.Required, r) {
			a.Required = append(a.Required, r)
		}
	}
}

// referenceOptional marks the unit and everything it reaches as used
// optionally.
func (a *UnitAnalysis) referenceOptional(ctx *Context) {
	a.propagate(ctx, func(u *UnitAnalysis) {
		for _, f := range ctx.run.factories {
			if h := f.OptionalReference(ctx, u); h != nil {
				u.AddHook(h)
			}
		}
		for _, h := range u.hooks {
			h.OptionalReference(ctx)
		}
		u.Counter += optionalStep
	})
}

// referenceRequired marks the unit and everything it reaches as required.
func (a *UnitAnalysis) referenceRequired(ctx *Context) {
	a.propagate(ctx, func(u *UnitAnalysis) {
		for _, f := range ctx.run.factories {
			if h := f.RequiredReference(ctx, u); h != nil {
				u.AddHook(h)
			}
		}
		for _, h := range u.hooks {
			h.RequiredReference(ctx)
		}
		u.Counter += requiredStep
	})
}

// optionalBlockDiscarded tells the hooks of every unit reachable from a that
// the optional block containing them was dropped.
func (a *UnitAnalysis) optionalBlockDiscarded(ctx *Context) {
	a.propagate(ctx, func(u *UnitAnalysis) {
		for _, h := range u.hooks {
			h.OptionalBlockDiscarded(ctx)
		}
	})
}

// propagate applies mark to a and its callees.
//
// With PropagateOnce each unit is marked at most once per call. With
// PropagatePerPath a unit is marked once for every acyclic path reaching it.
func (a *UnitAnalysis) propagate(ctx *Context, mark func(*UnitAnalysis)) {
	seen := make(map[*UnitAnalysis]bool)
	perPath := ctx.run.opts.Propagation == PropagatePerPath

	var walk func(u *UnitAnalysis)
	walk = func(u *UnitAnalysis) {
		if seen[u] {
			return
		}
		seen[u] = true
		mark(u)
		for _, c := range u.callees {
			walk(c)
		}
		if perPath {
			delete(seen, u)
		}
	}
	walk(a)
}

// postAnalyze runs the post-analysis hooks of a and its callees, once per unit.
func (a *UnitAnalysis) postAnalyze() {
	if a.state == stateComplete {
		return
	}
	a.state = stateComplete
	for _, h := range a.hooks {
		h.PostAnalyze()
	}
	for _, c := range a.callees {
		c.postAnalyze()
	}
}
