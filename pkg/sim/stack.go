package sim

import (
	"fmt"
	"slices"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
)

// UnderflowError reports a pop from an empty simulated stack. It means the
// input body is malformed or the simulator's stack effects are wrong.
type UnderflowError struct {
	Instr ir.Instr
	Want  int
	Have  int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("stack underflow at %q: need %d, have %d", e.Instr, e.Want, e.Have)
}

// maxArrayElems bounds the size of a constant-size array whose elements are
// tracked. Larger arrays are treated like arrays of unknown size.
const maxArrayElems = 1 << 16

// Stack is the simulated operand stack of one method body.
type Stack struct {
	method *ir.Method
	sig    ref.Signature
	data   []Value

	// labels holds the stack recorded for each branch target.
	labels map[string][]Value

	// dead is set after an instruction that never falls through.
	dead bool
}

// New returns an empty stack for m.
func New(m *ir.Method) (*Stack, error) {
	sig, err := ref.ParseSignature(m.Desc)
	if err != nil {
		return nil, err
	}
	return &Stack{method: m, sig: sig, labels: make(map[string][]Value)}, nil
}

// Len returns the current depth.
func (s *Stack) Len() int {
	return len(s.data)
}

// Values returns a copy of the stack, bottom first.
func (s *Stack) Values() []Value {
	return slices.Clone(s.data)
}

// Push pushes v.
func (s *Stack) Push(v Value) {
	s.data = append(s.data, v)
}

// Peek returns the top of the stack.
func (s *Stack) Peek() (Value, bool) {
	if len(s.data) == 0 {
		return nil, false
	}
	return s.data[len(s.data)-1], true
}

// popN removes n values and returns them bottom first.
func (s *Stack) popN(in ir.Instr, n int) ([]Value, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative operand count %d at %q", n, in)
	}
	if n > len(s.data) {
		return nil, &UnderflowError{Instr: in, Want: n, Have: len(s.data)}
	}
	vals := slices.Clone(s.data[len(s.data)-n:])
	s.data = s.data[:len(s.data)-n]
	return vals, nil
}

func (s *Stack) pop(in ir.Instr) (Value, error) {
	vals, err := s.popN(in, 1)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

// Invoke applies the stack effect of a call to r: it pops the receiver (unless
// r is static) and the arguments, pushes the result unless r returns void, and
// returns the popped values receiver first.
func (s *Stack) Invoke(in ir.Instr) ([]Value, error) {
	sig, err := in.Ref.Signature()
	if err != nil {
		return nil, err
	}
	n := sig.Arity()
	if !in.Ref.Static {
		n++
	}
	args, err := s.popN(in, n)
	if err != nil {
		return nil, err
	}
	if sig.Returns() {
		s.Push(Return{Ref: in.Ref, Type: sig.Result})
	}
	return args, nil
}

// Step applies the stack effect of any instruction other than OpInvoke.
func (s *Stack) Step(in ir.Instr) error {
	if in.Op == ir.OpLabel {
		s.enterLabel(in.Label)
		return nil
	}

	switch in.Op {
	case ir.OpNop:
	case ir.OpConst:
		s.Push(Const{V: in.Const.Value()})
	case ir.OpNull:
		s.Push(Const{})
	case ir.OpLoad:
		s.Push(Local{Index: in.Arg, Type: s.method.LocalType(in.Arg)})
	case ir.OpStore, ir.OpPop, ir.OpPutStatic:
		if _, err := s.pop(in); err != nil {
			return err
		}
	case ir.OpDup:
		v, err := s.pop(in)
		if err != nil {
			return err
		}
		s.Push(v)
		s.Push(v)
	case ir.OpSwap:
		vals, err := s.popN(in, 2)
		if err != nil {
			return err
		}
		s.Push(vals[1])
		s.Push(vals[0])
	case ir.OpGetField:
		if _, err := s.pop(in); err != nil {
			return err
		}
		s.Push(FieldRead{Ref: in.Ref})
	case ir.OpGetStatic:
		s.Push(FieldRead{Ref: in.Ref})
	case ir.OpPutField:
		if _, err := s.popN(in, 2); err != nil {
			return err
		}
	case ir.OpNew:
		s.Push(Instance{Type: in.Type})
	case ir.OpCheckCast:
		v, err := s.pop(in)
		if err != nil {
			return err
		}
		s.Push(v)
	case ir.OpClosure:
		if _, err := s.popN(in, in.Arg); err != nil {
			return err
		}
		s.Push(&Closure{Target: in.Ref, Direct: in.Direct, Captured: in.Arg})
	case ir.OpReturn:
		if s.sig.Returns() {
			if _, err := s.pop(in); err != nil {
				return err
			}
		}
	case ir.OpFail:
	case ir.OpNewArray:
		size, err := s.pop(in)
		if err != nil {
			return err
		}
		arr := &Array{Type: in.Type}
		if c, ok := size.(Const); ok {
			if n, ok := c.V.(int64); ok && n >= 0 && n <= maxArrayElems {
				arr.Elems = make([]Value, n)
			}
		}
		s.Push(arr)
	case ir.OpAStore:
		vals, err := s.popN(in, 3)
		if err != nil {
			return err
		}
		storeElem(vals[0], vals[1], vals[2])
	case ir.OpALoad:
		if _, err := s.popN(in, 2); err != nil {
			return err
		}
		s.Push(Unknown{})
	case ir.OpAdd, ir.OpEq:
		if _, err := s.popN(in, 2); err != nil {
			return err
		}
		s.Push(Unknown{})
	case ir.OpNot:
		if _, err := s.pop(in); err != nil {
			return err
		}
		s.Push(Unknown{})
	case ir.OpJump:
		s.branch(in.Label)
	case ir.OpJumpIf:
		if _, err := s.pop(in); err != nil {
			return err
		}
		s.branch(in.Label)
	default:
		return fmt.Errorf("no stack effect for %s", in.Op)
	}

	if in.Op.Terminal() {
		s.dead = true
		s.data = nil
	}
	return nil
}

func storeElem(array, index, value Value) {
	arr, ok := array.(*Array)
	if !ok || arr.Elems == nil {
		return
	}
	c, ok := index.(Const)
	if !ok {
		return
	}
	if i, ok := c.V.(int64); ok && i >= 0 && int(i) < len(arr.Elems) {
		arr.Elems[i] = value
	}
}

// branch records the stack seen by a jump to label. The first recording wins.
func (s *Stack) branch(label string) {
	if _, ok := s.labels[label]; !ok {
		s.labels[label] = slices.Clone(s.data)
	}
}

// enterLabel restores the recorded stack when the label is only reachable by
// a jump.
func (s *Stack) enterLabel(label string) {
	recorded, ok := s.labels[label]
	if s.dead {
		s.data = slices.Clone(recorded)
		s.dead = false
		return
	}
	if !ok {
		s.labels[label] = slices.Clone(s.data)
	}
}
