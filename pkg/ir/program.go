package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/capdeps/pkg/ref"
)

// Field is a field declaration.
type Field struct {
	Name   string `cbor:"1,keyasint"`
	Desc   string `cbor:"2,keyasint"`
	Static bool   `cbor:"3,keyasint,omitempty"`
}

// Method is a method declaration with its body.
type Method struct {
	Name   string `cbor:"1,keyasint"`
	Desc   string `cbor:"2,keyasint"`
	Static bool   `cbor:"3,keyasint,omitempty"`
	Public bool   `cbor:"4,keyasint,omitempty"`

	// Locals are the declared types of local slots, receiver and parameters first.
	Locals []string `cbor:"5,keyasint,omitempty"`

	// Directives are the comment lines directly preceding the declaration.
	Directives []string `cbor:"6,keyasint,omitempty"`

	Body []Instr `cbor:"7,keyasint,omitempty"`

	// Line is the source line of the declaration, zero when unknown.
	Line int `cbor:"-"`
}

// Ref returns the reference of m declared in owner.
func (m *Method) Ref(owner string) ref.Reference {
	return ref.Method(owner, m.Name, m.Desc, m.Static)
}

// LocalType returns the declared type of local slot i, or "" if undeclared.
func (m *Method) LocalType(i int) string {
	if i < 0 || i >= len(m.Locals) {
		return ""
	}
	return m.Locals[i]
}

// Clone returns a deep copy of m.
func (m *Method) Clone() *Method {
	c := *m
	c.Locals = slices.Clone(m.Locals)
	c.Directives = slices.Clone(m.Directives)
	c.Body = slices.Clone(m.Body)
	return &c
}

// Unit is a compilation unit: a named type with fields and methods.
type Unit struct {
	Name string `cbor:"1,keyasint"`

	// Capability marks a capability interface whose members may be unimplemented.
	Capability bool `cbor:"2,keyasint,omitempty"`

	// Implements lists the capabilities this unit provides.
	Implements []string `cbor:"3,keyasint,omitempty"`

	Fields  []Field   `cbor:"4,keyasint,omitempty"`
	Methods []*Method `cbor:"5,keyasint,omitempty"`

	// Source is the file the unit was parsed from.
	Source string `cbor:"-"`
}

// Method returns the method with the given name and descriptor.
func (u *Unit) Method(name, desc string) *Method {
	for _, m := range u.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Field returns the field with the given name and descriptor.
func (u *Unit) Field(name, desc string) (Field, bool) {
	for _, f := range u.Fields {
		if f.Name == name && f.Desc == desc {
			return f, true
		}
	}
	return Field{}, false
}

// Clone returns a deep copy of u.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Implements = slices.Clone(u.Implements)
	c.Fields = slices.Clone(u.Fields)
	c.Methods = make([]*Method, len(u.Methods))
	for i, m := range u.Methods {
		c.Methods[i] = m.Clone()
	}
	return &c
}

// Loader provides method bodies by reference.
type Loader interface {
	// BodyOf returns the declaration of r, or false if r is a field, unknown,
	// or has no loadable body.
	BodyOf(r ref.Reference) (*Method, bool)
}

// Program is an ordered set of compilation units. It implements Loader.
type Program struct {
	Units []*Unit `cbor:"1,keyasint"`

	index map[string]*Unit
}

// NewProgram builds a program from units. Duplicate unit names are an error.
func NewProgram(units ...*Unit) (*Program, error) {
	p := &Program{}
	for _, u := range units {
		if err := p.Add(u); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add appends a unit to the program.
func (p *Program) Add(u *Unit) error {
	p.reindex()
	if _, exists := p.index[u.Name]; exists {
		return fmt.Errorf("duplicate unit %s", u.Name)
	}
	p.Units = append(p.Units, u)
	p.index[u.Name] = u
	return nil
}

// Unit returns the unit with the given name, or nil.
func (p *Program) Unit(name string) *Unit {
	p.reindex()
	return p.index[name]
}

// BodyOf implements Loader.
func (p *Program) BodyOf(r ref.Reference) (*Method, bool) {
	if r.IsField() {
		return nil, false
	}
	u := p.Unit(r.Owner)
	if u == nil {
		return nil, false
	}
	m := u.Method(r.Name, r.Desc)
	if m == nil || m.Static != r.Static {
		return nil, false
	}
	return m, true
}

// Capabilities returns the names of all capability units in declaration order.
func (p *Program) Capabilities() []string {
	var names []string
	for _, u := range p.Units {
		if u.Capability {
			names = append(names, u.Name)
		}
	}
	return names
}

// Validate checks that every method body is well formed: descriptors parse,
// jump targets exist, labels are unique and operand counts are not negative.
func (p *Program) Validate() error {
	var problems []string
	for _, u := range p.Units {
		for _, m := range u.Methods {
			if _, err := ref.ParseSignature(m.Desc); err != nil {
				problems = append(problems, fmt.Sprintf("%s.%s: %v", u.Name, m.Name, err))
				continue
			}
			labels := make(map[string]bool)
			for _, in := range m.Body {
				if in.Op == OpLabel {
					if labels[in.Label] {
						problems = append(problems, fmt.Sprintf("%s.%s: duplicate label %s", u.Name, m.Name, in.Label))
					}
					labels[in.Label] = true
				}
			}
			for _, in := range m.Body {
				switch in.Op {
				case OpClosure, OpLoad, OpStore:
					if in.Arg < 0 {
						problems = append(problems, fmt.Sprintf("%s.%s: negative operand in %s", u.Name, m.Name, in.Op))
					}
				}
				if (in.Op == OpJump || in.Op == OpJumpIf) && !labels[in.Label] {
					problems = append(problems, fmt.Sprintf("%s.%s: undefined label %s", u.Name, m.Name, in.Label))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid program:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

func (p *Program) reindex() {
	if p.index != nil && len(p.index) == len(p.Units) {
		return
	}
	p.index = make(map[string]*Unit, len(p.Units))
	for _, u := range p.Units {
		p.index[u.Name] = u
	}
}

// CachedLoader memoizes successful lookups of an underlying Loader. Misses are
// not cached so a body that becomes available later is still found.
type CachedLoader struct {
	loader Loader
	cache  *xsync.Map[ref.Reference, *Method]
}

// NewCachedLoader wraps l.
func NewCachedLoader(l Loader) *CachedLoader {
	return &CachedLoader{
		loader: l,
		cache:  xsync.NewMap[ref.Reference, *Method](),
	}
}

// BodyOf implements Loader.
func (c *CachedLoader) BodyOf(r ref.Reference) (*Method, bool) {
	if m, ok := c.cache.Load(r); ok {
		return m, true
	}
	m, ok := c.loader.BodyOf(r)
	if ok {
		c.cache.Store(r, m)
	}
	return m, ok
}
