// Package sim simulates the operand stack of a method body symbolically.
//
// The simulated stack mirrors the real one value for value. It carries just
// enough information to resolve closures and closure arrays handed to the
// intrinsics; everything else collapses to a marker of where the value came
// from.
package sim

import (
	"fmt"

	"github.com/715d/capdeps/pkg/ref"
)

// Value is a symbolic stack value.
type Value interface {
	fmt.Stringer
	value()
}

// Const is a literal. V is nil for null.
type Const struct{ V any }

// Local is a value loaded from a local slot.
type Local struct {
	Index int
	Type  string
}

// FieldRead is the value of a field.
type FieldRead struct{ Ref ref.Reference }

// Return is the result of a call.
type Return struct {
	Ref  ref.Reference
	Type string
}

// Instance is a freshly allocated object.
type Instance struct{ Type string }

// Closure is a deferred call of Target with Captured values bound.
type Closure struct {
	Target   ref.Reference
	Direct   bool
	Captured int

	// Discard is set by the analyzer when the closure is never run; the
	// creation is then emitted as a null.
	Discard bool
}

// Array is an array allocated with a constant size. Elems is nil when the size
// was not a constant.
type Array struct {
	Type  string
	Elems []Value
}

// Unknown is any value the simulator does not track.
type Unknown struct{}

func (Const) value()     {}
func (Local) value()     {}
func (FieldRead) value() {}
func (Return) value()    {}
func (Instance) value()  {}
func (*Closure) value()  {}
func (*Array) value()    {}
func (Unknown) value()   {}

func (c Const) String() string {
	if c.V == nil {
		return "null"
	}
	return fmt.Sprintf("const(%v)", c.V)
}

func (l Local) String() string     { return fmt.Sprintf("local(%d %s)", l.Index, l.Type) }
func (f FieldRead) String() string { return "field(" + f.Ref.Member() + ")" }
func (r Return) String() string    { return "return(" + r.Ref.Member() + " " + r.Type + ")" }
func (i Instance) String() string  { return "new(" + i.Type + ")" }
func (Unknown) String() string     { return "unknown" }

func (c *Closure) String() string {
	kind := "lambda"
	if c.Direct {
		kind = "direct"
	}
	return fmt.Sprintf("closure(%s %s/%d)", kind, c.Target.Member(), c.Captured)
}

func (a *Array) String() string {
	if a.Elems == nil {
		return "array(" + a.Type + ")"
	}
	return fmt.Sprintf("array(%s %d)", a.Type, len(a.Elems))
}
