package analyzer

import (
	"fmt"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/sim"
)

// classAnalyzer holds the analyses of the methods declared by one class.
type classAnalyzer struct {
	run  *Run
	name string

	// unit is nil for classes only reached through the loader.
	unit *ir.Unit

	deps    *Set
	methods map[ref.Reference]*methodState
	order   []ref.Reference
}

type methodState struct {
	analysis *UnitAnalysis
	method   *ir.Method
	out      []emitter
}

// local analyses a method declared by the class, unless it already was. A
// method with an empty body gets a partial stub.
func (c *classAnalyzer) local(m *ir.Method) (*UnitAnalysis, error) {
	target := m.Ref(c.name)
	if a, ok := c.run.cache[target]; ok && !a.Partial && a.state != stateActive {
		return a, nil
	}
	if len(m.Body) == 0 {
		return c.run.stub(target), nil
	}
	return c.visit(target, m)
}

// visit analyses the body of m. A partial stub for target is superseded in
// place so counters and hooks already attached to it carry over.
func (c *classAnalyzer) visit(target ref.Reference, m *ir.Method) (*UnitAnalysis, error) {
	r := c.run
	a, ok := r.cache[target]
	if !ok {
		a = newUnitAnalysis(target)
		r.cache[target] = a
	}

	stack, err := sim.New(m)
	if err != nil {
		return nil, wrapError(target, append(r.ctx.Trace(), target), fmt.Errorf("%w: %w", ErrMalformed, err))
	}

	a.Partial = false
	a.state = stateActive
	r.ctx.push(a, stack)
	for _, h := range r.methodHooks {
		h.EnterMethod(r.ctx)
	}

	v := &visitor{run: r, class: c, analysis: a, method: m, stack: stack}
	err = v.visit()
	trace := r.ctx.Trace()

	for _, h := range r.methodHooks {
		h.LeaveMethod(r.ctx)
	}
	r.ctx.pop()

	if err != nil {
		return nil, wrapError(target, trace, err)
	}
	a.state = stateVisited

	if _, ok := c.methods[target]; !ok {
		c.order = append(c.order, target)
	}
	c.methods[target] = &methodState{analysis: a, method: m, out: v.out}
	return a, nil
}

// postAnalyze marks roots and net-required methods as required, then runs
// the post-analysis hooks once every mark is in.
func (c *classAnalyzer) postAnalyze() {
	for _, target := range c.order {
		st := c.methods[target]
		if st.analysis.Counter < 0 || c.run.isRoot(c.name, st.method) {
			st.analysis.referenceRequired(c.run.ctx)
		}
	}
	for _, target := range c.order {
		c.methods[target].analysis.postAnalyze()
	}
}

func (c *classAnalyzer) emit() *ClassResult {
	unit := c.unit.Clone()
	for _, m := range unit.Methods {
		st, ok := c.methods[m.Ref(unit.Name)]
		if !ok {
			continue
		}
		var body []ir.Instr
		for _, e := range st.out {
			body = e.emit(body)
		}
		m.Body = body
	}
	return &ClassResult{
		Unit:         unit,
		Dependencies: c.deps.dedup(),
		Groups:       c.deps.groups,
	}
}
