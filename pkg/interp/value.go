package interp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/capdeps/pkg/ref"
)

// Object is an instance of a unit.
type Object struct {
	Type   string
	Fields map[string]any
}

// NewObject returns an empty instance of typ.
func NewObject(typ string) *Object {
	return &Object{Type: typ, Fields: make(map[string]any)}
}

func (o *Object) String() string {
	return "object(" + o.Type + ")"
}

// Array is a fixed-size array.
type Array struct {
	Type  string
	Elems []any
}

// Closure is a deferred call of Target with Captured bound as its leading
// arguments, the receiver first for a non-static target.
type Closure struct {
	Target   ref.Reference
	Captured []any
}

func (c *Closure) String() string {
	return fmt.Sprintf("closure(%s/%d)", c.Target.Member(), len(c.Captured))
}

// ParseValue parses the typed literal form used on command lines and in test
// expectations: obj:<unit>, int:<n>, str:<s>, bool:<b> or null.
func ParseValue(s string) (any, error) {
	if s == "null" {
		return nil, nil
	}
	kind, val, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("value %q: want kind:value", s)
	}
	switch kind {
	case "obj":
		if val == "" {
			return nil, fmt.Errorf("value %q: missing unit", s)
		}
		return NewObject(val), nil
	case "int":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, err)
		}
		return n, nil
	case "str":
		return val, nil
	case "bool":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("value %q: unknown kind %q", s, kind)
}
