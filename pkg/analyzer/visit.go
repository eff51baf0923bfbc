package analyzer

import (
	"fmt"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/sim"
	"github.com/715d/capdeps/pkg/usage"
)

// visitor walks one method body in order, keeping the simulated stack in
// lock step and queueing the output instructions.
type visitor struct {
	run      *Run
	class    *classAnalyzer
	analysis *UnitAnalysis
	method   *ir.Method
	stack    *sim.Stack
	out      []emitter
}

func (v *visitor) visit() error {
	for _, in := range v.method.Body {
		var err error
		switch in.Op {
		case ir.OpInvoke:
			err = v.invoke(in)
		case ir.OpGetField, ir.OpGetStatic:
			err = v.fieldRead(in)
		case ir.OpClosure:
			err = v.closure(in)
		default:
			if err = v.stack.Step(in); err == nil {
				v.emit(plain(in))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (v *visitor) emit(e emitter) {
	v.out = append(v.out, e)
}

func (v *visitor) invoke(in ir.Instr) error {
	switch {
	case usage.IsOptionally(in.Ref):
		return v.optionally(in)
	case in.Ref == usage.RequireOneOf:
		return v.requireOneOf(in)
	}

	if _, err := v.stack.Invoke(in); err != nil {
		return err
	}
	if !usage.IsIntrinsic(in.Ref) {
		res, err := v.run.resolve(in.Ref)
		if err != nil {
			return err
		}
		if res.Analysis != nil {
			v.analysis.addCallee(res.Analysis)
			v.analysis.addRequired(res.Analysis.Required...)
		}
	}
	v.checkDependency(in.Ref)
	v.emit(plain(in))
	return nil
}

func (v *visitor) fieldRead(in ir.Instr) error {
	if err := v.stack.Step(in); err != nil {
		return err
	}
	res, err := v.run.resolve(in.Ref)
	if err != nil {
		return err
	}
	v.analysis.addCallee(res.Analysis)
	res.Analysis.referenceRequired(v.run.ctx)
	v.checkDependency(in.Ref)
	v.emit(plain(in))
	return nil
}

func (v *visitor) closure(in ir.Instr) error {
	if err := v.stack.Step(in); err != nil {
		return err
	}
	top, _ := v.stack.Peek()
	v.emit(&closureEmitter{in: in, closure: top.(*sim.Closure)})
	return nil
}

// checkDependency records a use of target by the current method and queues a
// guard in case the method ends up required while target is missing.
func (v *visitor) checkDependency(target ref.Reference) {
	if usage.IsSpecial(target) || !v.run.isCandidate(target) {
		return
	}
	v.class.deps.add(Direct{Target: target, Owner: v.analysis.Ref})
	if v.analysis.Counter <= 0 && !v.run.isImplemented(target) {
		v.emit(guard{target: target, owner: v.analysis})
	}
	v.analysis.addRequired(target)
}

// closureDeps resolves the target of a closure and returns what running the
// closure depends on: the target itself for a direct reference to a tracked
// member, otherwise whatever the target's body requires.
func (v *visitor) closureDeps(c *sim.Closure) (*UnitAnalysis, []ref.Reference, error) {
	res, err := v.run.resolve(c.Target)
	if err != nil {
		return nil, nil, err
	}
	if c.Direct && v.run.isCandidate(c.Target) {
		return res.Analysis, []ref.Reference{c.Target}, nil
	}
	if res.Analysis == nil {
		return nil, nil, nil
	}
	return res.Analysis, res.Analysis.Required, nil
}

func (v *visitor) optionally(in ir.Instr) error {
	args, err := v.stack.Invoke(in)
	if err != nil {
		return err
	}
	c, ok := args[0].(*sim.Closure)
	if !ok {
		return fmt.Errorf("%w: %s called with %s", ErrIntrinsicShape, in.Ref.Name, args[0])
	}

	target, deps, err := v.closureDeps(c)
	if err != nil {
		return err
	}
	if target != nil {
		target.referenceOptional(v.run.ctx)
	}
	for _, d := range deps {
		v.class.deps.add(Direct{Target: d, Optional: true, Owner: v.analysis.Ref})
	}

	if v.run.allImplemented(deps) {
		v.emit(plain(in))
		return nil
	}

	if !c.Direct && target != nil {
		target.optionalBlockDiscarded(v.run.ctx)
	}
	c.Discard = true
	sub, _ := usage.Substitute(in.Ref)
	v.emit(plain(ir.Invoke(ir.CallStatic, sub)))
	return nil
}

// requireOneOf keeps the first alternative whose dependencies are all
// implemented and discards the rest.
func (v *visitor) requireOneOf(in ir.Instr) error {
	args, err := v.stack.Invoke(in)
	if err != nil {
		return err
	}
	arr, ok := args[0].(*sim.Array)
	if !ok || arr.Elems == nil {
		return fmt.Errorf("%w: %s called with %s", ErrIntrinsicShape, in.Ref.Name, args[0])
	}

	group := &OneOf{Owner: v.analysis.Ref}
	var chosen *sim.Closure
	for i, e := range arr.Elems {
		c, ok := e.(*sim.Closure)
		if !ok {
			return fmt.Errorf("%w: %s alternative %d is %v", ErrIntrinsicShape, in.Ref.Name, i, e)
		}
		target, deps, err := v.closureDeps(c)
		if err != nil {
			return err
		}

		if chosen == nil && v.run.allImplemented(deps) {
			chosen = c
			if target != nil {
				target.referenceRequired(v.run.ctx)
			}
			for _, d := range deps {
				dep := Direct{Target: d, Owner: v.analysis.Ref}
				v.class.deps.add(dep)
				group.Chosen = append(group.Chosen, dep)
			}
			continue
		}

		if target != nil {
			target.referenceOptional(v.run.ctx)
		}
		c.Discard = true
		for _, d := range deps {
			dep := Direct{Target: d, Optional: true, Owner: v.analysis.Ref}
			v.class.deps.add(dep)
			group.Rejected = append(group.Rejected, dep)
		}
	}

	group.Satisfied = chosen != nil
	v.class.deps.addGroup(group)

	sub := usage.NonePresent
	if chosen != nil {
		sub = usage.OnePresent
	}
	v.emit(plain(ir.Invoke(ir.CallStatic, sub)))
	return nil
}
