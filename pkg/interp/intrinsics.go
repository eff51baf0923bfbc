package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/usage"
)

var (
	optionalOrElse    = ref.Method(usage.OptionalType, "orElse", "(any)any", false)
	optionalGet       = ref.Method(usage.OptionalType, "get", "()any", false)
	optionalIsPresent = ref.Method(usage.OptionalType, "isPresent", "()bool", false)
)

func registerIntrinsics(m *Machine) {
	m.Register(usage.OptionallyValue, func(ctx context.Context, m *Machine, args []any) (any, error) {
		v, err := m.runSupplier(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return usage.Optional{Value: v, Present: true}, nil
	})
	m.Register(usage.OptionallyRun, func(ctx context.Context, m *Machine, args []any) (any, error) {
		if _, err := m.runSupplier(ctx, args[0]); err != nil {
			return nil, err
		}
		return true, nil
	})
	m.Register(usage.NotPresentValue, func(context.Context, *Machine, []any) (any, error) {
		return usage.Optional{}, nil
	})
	m.Register(usage.NotPresentRun, func(context.Context, *Machine, []any) (any, error) {
		return false, nil
	})
	m.Register(usage.RequireOneOf, func(context.Context, *Machine, []any) (any, error) {
		return nil, ErrUnrewritten
	})
	m.Register(usage.OnePresent, func(ctx context.Context, m *Machine, args []any) (any, error) {
		arr, ok := args[0].(*Array)
		if !ok {
			return nil, fmt.Errorf("onePresent: %v is not an array", args[0])
		}
		var only any
		present := 0
		for _, e := range arr.Elems {
			if e != nil {
				only = e
				present++
			}
		}
		if present != 1 {
			return nil, fmt.Errorf("onePresent: %d alternatives present", present)
		}
		return m.runSupplier(ctx, only)
	})
	m.Register(usage.NonePresent, func(context.Context, *Machine, []any) (any, error) {
		return nil, &usage.NoneImplementedError{}
	})

	m.Register(optionalOrElse, func(_ context.Context, _ *Machine, args []any) (any, error) {
		o, err := asOptional(args[0])
		if err != nil {
			return nil, err
		}
		return o.OrElse(args[1]), nil
	})
	m.Register(optionalGet, func(_ context.Context, _ *Machine, args []any) (any, error) {
		o, err := asOptional(args[0])
		if err != nil {
			return nil, err
		}
		v, ok := o.Get()
		if !ok {
			return nil, errors.New("get of empty optional")
		}
		return v, nil
	})
	m.Register(optionalIsPresent, func(_ context.Context, _ *Machine, args []any) (any, error) {
		o, err := asOptional(args[0])
		if err != nil {
			return nil, err
		}
		return o.Present, nil
	})
}

func (m *Machine) runSupplier(ctx context.Context, v any) (any, error) {
	c, ok := v.(*Closure)
	if !ok {
		return nil, fmt.Errorf("%v is not a closure", v)
	}
	return m.CallClosure(ctx, c)
}

func asOptional(v any) (usage.Optional, error) {
	o, ok := v.(usage.Optional)
	if !ok {
		return usage.Optional{}, fmt.Errorf("%v is not an optional", v)
	}
	return o, nil
}
