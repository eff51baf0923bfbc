// Package interp executes programs, rewritten or not. It exists to check by
// execution that a rewritten class behaves as its analysis claims.
package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/usage"
)

const (
	defaultMaxDepth = 512
	maxArrayLen     = 1 << 24
)

var (
	// ErrNoMethod is returned when a call resolves to neither a body nor a
	// native.
	ErrNoMethod = errors.New("no such method")

	// ErrDepth is returned when the call depth exceeds Options.MaxDepth.
	ErrDepth = errors.New("call depth exceeded")

	// ErrUnrewritten is returned when requireOneOf is reached unrewritten.
	ErrUnrewritten = errors.New("requireOneOf must be rewritten before execution")
)

// ExecError locates a runtime failure that is not a capability error.
type ExecError struct {
	Method ref.Reference
	PC     int
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s at %d: %v", e.Method, e.PC, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Native implements a method in Go. args holds the receiver first for
// non-static methods.
type Native func(ctx context.Context, m *Machine, args []any) (any, error)

// Options configures a Machine.
type Options struct {
	// MaxDepth bounds the call depth. Defaults to 512.
	MaxDepth int

	// OnInvoke is called with every method about to run.
	OnInvoke func(ref.Reference)

	Logger *slog.Logger
}

// Machine executes the methods of a program. It is not safe for concurrent
// use.
type Machine struct {
	program *ir.Program
	opts    Options
	log     *slog.Logger
	natives map[string]Native
	statics map[ref.Reference]any
	labels  *xsync.Map[*ir.Method, map[string]int]
	depth   int
}

// New returns a machine over p with the intrinsic natives registered.
func New(p *ir.Program, opts Options) *Machine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	m := &Machine{
		program: p,
		opts:    opts,
		log:     opts.Logger,
		natives: make(map[string]Native),
		statics: make(map[ref.Reference]any),
		labels:  xsync.NewMap[*ir.Method, map[string]int](),
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	registerIntrinsics(m)
	return m
}

func nativeKey(r ref.Reference) string {
	return r.Member() + " " + r.Desc
}

// Register installs a native implementation of r, replacing any earlier one.
func (m *Machine) Register(r ref.Reference, fn Native) {
	m.natives[nativeKey(r)] = fn
}

// SetStatic sets the value of a static field.
func (m *Machine) SetStatic(field ref.Reference, v any) {
	field.Static = true
	m.statics[field] = v
}

// Call runs target with args, the receiver first for a non-static target.
func (m *Machine) Call(ctx context.Context, target ref.Reference, args ...any) (any, error) {
	kind := ir.CallVirtual
	if target.Static {
		kind = ir.CallStatic
	}
	return m.invoke(ctx, ir.Invoke(kind, target), args)
}

// CallClosure runs a closure.
func (m *Machine) CallClosure(ctx context.Context, c *Closure) (any, error) {
	if c == nil {
		return nil, errors.New("call of null closure")
	}
	return m.Call(ctx, c.Target, c.Captured...)
}

func (m *Machine) invoke(ctx context.Context, in ir.Instr, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.depth >= m.opts.MaxDepth {
		return nil, fmt.Errorf("%w: %d calling %s", ErrDepth, m.depth, in.Ref)
	}
	m.depth++
	defer func() { m.depth-- }()

	if in.Ref.Name == usage.Unimplemented {
		return nil, &usage.MissingCapabilityError{}
	}

	owner, body, ok := m.dispatch(in, args)
	if ok {
		if m.opts.OnInvoke != nil {
			m.opts.OnInvoke(body.Ref(owner))
		}
		return m.exec(ctx, owner, body, args)
	}

	if fn, ok := m.natives[nativeKey(in.Ref)]; ok {
		if m.opts.OnInvoke != nil {
			m.opts.OnInvoke(in.Ref)
		}
		return fn(ctx, m, args)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMethod, in.Ref)
}

// dispatch finds the body to run for a call: for a virtual call the
// receiver's own method, then the default bodies of the capabilities it
// implements, then the declared owner's.
func (m *Machine) dispatch(in ir.Instr, args []any) (string, *ir.Method, bool) {
	r := in.Ref
	if in.Call == ir.CallVirtual && len(args) > 0 {
		if obj, ok := args[0].(*Object); ok {
			if u := m.program.Unit(obj.Type); u != nil {
				if body := u.Method(r.Name, r.Desc); body != nil && !body.Static {
					return u.Name, body, true
				}
				for _, name := range u.Implements {
					if c := m.program.Unit(name); c != nil {
						if body := c.Method(r.Name, r.Desc); body != nil && !body.Static && len(body.Body) > 0 {
							return c.Name, body, true
						}
					}
				}
			}
		}
	}
	body, ok := m.program.BodyOf(r)
	if !ok {
		return "", nil, false
	}
	return r.Owner, body, true
}

// exec runs one method body.
func (m *Machine) exec(ctx context.Context, owner string, meth *ir.Method, args []any) (any, error) {
	self := meth.Ref(owner)
	if len(meth.Body) == 0 {
		// Abstract capability member with no provider override.
		return nil, &usage.MissingCapabilityError{Ref: self}
	}
	sig, err := ref.ParseSignature(meth.Desc)
	if err != nil {
		return nil, &ExecError{Method: self, Err: err}
	}

	f := &frame{
		locals: make([]any, max(len(meth.Locals), len(args))),
		labels: m.labelsOf(meth),
	}
	copy(f.locals, args)

	for pc := 0; pc < len(meth.Body); pc++ {
		in := meth.Body[pc]
		next, ret, done, err := m.step(ctx, f, in, sig)
		if err != nil {
			var missing *usage.MissingCapabilityError
			var none *usage.NoneImplementedError
			var exec *ExecError
			if errors.As(err, &missing) || errors.As(err, &none) || errors.As(err, &exec) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, &ExecError{Method: self, PC: pc, Err: err}
		}
		if done {
			return ret, nil
		}
		if next >= 0 {
			pc = next
		}
	}

	if sig.Returns() {
		return nil, &ExecError{Method: self, PC: len(meth.Body), Err: errors.New("missing return")}
	}
	return nil, nil
}

// labelsOf returns the pc of every label in meth, computed once per body.
func (m *Machine) labelsOf(meth *ir.Method) map[string]int {
	if labels, ok := m.labels.Load(meth); ok {
		return labels
	}
	labels := make(map[string]int)
	for pc, in := range meth.Body {
		if in.Op == ir.OpLabel {
			labels[in.Label] = pc
		}
	}
	m.labels.Store(meth, labels)
	return labels
}

type frame struct {
	locals []any
	stack  []any
	labels map[string]int
}

func (f *frame) push(v any) {
	f.stack = append(f.stack, v)
}

func (f *frame) popN(n int) ([]any, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative operand count %d", n)
	}
	if n > len(f.stack) {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(f.stack))
	}
	vals := make([]any, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals, nil
}

func (f *frame) pop() (any, error) {
	vals, err := f.popN(1)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

func (f *frame) jump(label string) (int, error) {
	pc, ok := f.labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %s", label)
	}
	return pc, nil
}

// step executes one instruction. next is the pc to continue after, or -1 to
// fall through; done is set when the method returned ret.
func (m *Machine) step(ctx context.Context, f *frame, in ir.Instr, sig ref.Signature) (next int, ret any, done bool, err error) {
	next = -1
	switch in.Op {
	case ir.OpNop, ir.OpLabel, ir.OpCheckCast:
	case ir.OpConst:
		f.push(in.Const.Value())
	case ir.OpNull:
		f.push(nil)
	case ir.OpLoad:
		if in.Arg < 0 || in.Arg >= len(f.locals) {
			return next, nil, false, fmt.Errorf("load %d: no such local", in.Arg)
		}
		f.push(f.locals[in.Arg])
	case ir.OpStore:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		if in.Arg < 0 || in.Arg >= len(f.locals) {
			return next, nil, false, fmt.Errorf("store %d: no such local", in.Arg)
		}
		f.locals[in.Arg] = v
	case ir.OpDup:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		f.push(v)
		f.push(v)
	case ir.OpPop:
		if _, err := f.pop(); err != nil {
			return next, nil, false, err
		}
	case ir.OpSwap:
		vals, err := f.popN(2)
		if err != nil {
			return next, nil, false, err
		}
		f.push(vals[1])
		f.push(vals[0])

	case ir.OpGetField:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		obj, ok := v.(*Object)
		if !ok {
			return next, nil, false, fmt.Errorf("getfield %s on %v", in.Ref.Member(), v)
		}
		f.push(obj.Fields[in.Ref.Name])
	case ir.OpGetStatic:
		f.push(m.statics[in.Ref])
	case ir.OpPutField:
		vals, err := f.popN(2)
		if err != nil {
			return next, nil, false, err
		}
		obj, ok := vals[0].(*Object)
		if !ok {
			return next, nil, false, fmt.Errorf("putfield %s on %v", in.Ref.Member(), vals[0])
		}
		obj.Fields[in.Ref.Name] = vals[1]
	case ir.OpPutStatic:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		m.statics[in.Ref] = v
	case ir.OpNew:
		f.push(NewObject(in.Type))

	case ir.OpInvoke:
		csig, err := in.Ref.Signature()
		if err != nil {
			return next, nil, false, err
		}
		n := csig.Arity()
		if !in.Ref.Static {
			n++
		}
		args, err := f.popN(n)
		if err != nil {
			return next, nil, false, err
		}
		v, err := m.invoke(ctx, in, args)
		if err != nil {
			return next, nil, false, err
		}
		if csig.Returns() {
			f.push(v)
		}
	case ir.OpClosure:
		captured, err := f.popN(in.Arg)
		if err != nil {
			return next, nil, false, err
		}
		f.push(&Closure{Target: in.Ref, Captured: captured})
	case ir.OpReturn:
		if !sig.Returns() {
			return next, nil, true, nil
		}
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		return next, v, true, nil
	case ir.OpFail:
		m.log.Debug("capability guard", "ref", in.Ref.String())
		return next, nil, false, &usage.MissingCapabilityError{Ref: in.Ref}

	case ir.OpNewArray:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		size, ok := v.(int64)
		if !ok || size < 0 || size > maxArrayLen {
			return next, nil, false, fmt.Errorf("newarray: bad size %v", v)
		}
		f.push(&Array{Type: in.Type, Elems: make([]any, size)})
	case ir.OpAStore:
		vals, err := f.popN(3)
		if err != nil {
			return next, nil, false, err
		}
		arr, i, err := arrayIndex(vals[0], vals[1])
		if err != nil {
			return next, nil, false, err
		}
		arr.Elems[i] = vals[2]
	case ir.OpALoad:
		vals, err := f.popN(2)
		if err != nil {
			return next, nil, false, err
		}
		arr, i, err := arrayIndex(vals[0], vals[1])
		if err != nil {
			return next, nil, false, err
		}
		f.push(arr.Elems[i])

	case ir.OpAdd:
		vals, err := f.popN(2)
		if err != nil {
			return next, nil, false, err
		}
		v, err := add(vals[0], vals[1])
		if err != nil {
			return next, nil, false, err
		}
		f.push(v)
	case ir.OpEq:
		vals, err := f.popN(2)
		if err != nil {
			return next, nil, false, err
		}
		f.push(vals[0] == vals[1])
	case ir.OpNot:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		b, ok := v.(bool)
		if !ok {
			return next, nil, false, fmt.Errorf("not: %v is not a bool", v)
		}
		f.push(!b)
	case ir.OpJump:
		next, err = f.jump(in.Label)
		return next, nil, false, err
	case ir.OpJumpIf:
		v, err := f.pop()
		if err != nil {
			return next, nil, false, err
		}
		if b, _ := v.(bool); b {
			next, err = f.jump(in.Label)
			return next, nil, false, err
		}
	default:
		return next, nil, false, fmt.Errorf("unsupported op %s", in.Op)
	}
	return next, nil, false, nil
}

func arrayIndex(a, idx any) (*Array, int, error) {
	arr, ok := a.(*Array)
	if !ok {
		return nil, 0, fmt.Errorf("%v is not an array", a)
	}
	i, ok := idx.(int64)
	if !ok || i < 0 || int(i) >= len(arr.Elems) {
		return nil, 0, fmt.Errorf("index %v out of range [0,%d)", idx, len(arr.Elems))
	}
	return arr, int(i), nil
}

func add(a, b any) (any, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return x + y, nil
		}
	case string:
		return x + fmt.Sprint(b), nil
	}
	return nil, fmt.Errorf("add: %T and %T", a, b)
}
