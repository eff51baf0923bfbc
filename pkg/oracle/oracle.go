// Package oracle answers whether a capability member is implemented.
package oracle

import (
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/usage"
)

// Oracle reports whether a reference is currently implemented.
type Oracle interface {
	IsImplemented(r ref.Reference) bool
}

// Func adapts a function to Oracle.
type Func func(ref.Reference) bool

// IsImplemented implements Oracle.
func (f Func) IsImplemented(r ref.Reference) bool { return f(r) }

// AllImplemented reports whether every reference in refs is implemented.
func AllImplemented(o Oracle, refs []ref.Reference) bool {
	for _, r := range refs {
		if !o.IsImplemented(r) {
			return false
		}
	}
	return true
}

// Checker can decide implementation for some references. The second result
// is false when the checker has no opinion.
type Checker interface {
	CheckImplemented(r ref.Reference, provider string) (implemented bool, ok bool)
}

// Options configures a Table.
type Options struct {
	// ImplementedByDefault is the answer for members of owners that are not
	// registered capabilities.
	ImplementedByDefault bool

	// Checkers are consulted in order before the table; the first definitive
	// answer wins.
	Checkers []Checker
}

// Table is the provider-capability table. Which members a provider implements
// is resolved once, when the provider is registered.
type Table struct {
	opts Options

	// capabilities maps a capability name to its declaration.
	capabilities map[string]*ir.Unit

	// providers maps a capability name to the registered provider unit name.
	providers map[string]string

	// implemented holds every member some provider implements.
	implemented map[ref.Reference]bool
}

// NewTable returns an empty table.
func NewTable(opts Options) *Table {
	return &Table{
		opts:         opts,
		capabilities: make(map[string]*ir.Unit),
		providers:    make(map[string]string),
		implemented:  make(map[ref.Reference]bool),
	}
}

// FromProgram builds a table from a program: every capability unit is
// declared and every unit implementing one is registered as its provider.
func FromProgram(p *ir.Program, opts Options) *Table {
	t := NewTable(opts)
	for _, u := range p.Units {
		if u.Capability {
			t.Declare(u)
		}
	}
	for _, u := range p.Units {
		if len(u.Implements) > 0 {
			t.Register(u)
		}
	}
	return t
}

// Declare adds a capability. Members with a default body that does not call
// the unimplemented sentinel count as implemented.
func (t *Table) Declare(capability *ir.Unit) {
	t.capabilities[capability.Name] = capability
	t.reset(capability)
}

// reset returns every member of capability to its declared default.
func (t *Table) reset(capability *ir.Unit) {
	for _, m := range capability.Methods {
		r := m.Ref(capability.Name)
		if len(m.Body) > 0 && !CallsUnimplemented(m) {
			t.implemented[r] = true
		} else {
			delete(t.implemented, r)
		}
	}
	for _, f := range capability.Fields {
		delete(t.implemented, ref.Field(capability.Name, f.Name, f.Desc, f.Static))
	}
}

// Register records provider as the implementation of every capability it
// declares. A later registration for the same capability replaces the earlier
// one entirely.
func (t *Table) Register(provider *ir.Unit) {
	for _, name := range provider.Implements {
		capability, ok := t.capabilities[name]
		if !ok {
			slog.Warn("provider implements undeclared capability", "provider", provider.Name, "capability", name)
			continue
		}
		if prev, ok := t.providers[name]; ok && prev != provider.Name {
			slog.Warn("provider replaced", "capability", name, "previous", prev, "provider", provider.Name)
		}
		t.providers[name] = provider.Name
		t.reset(capability)

		for _, m := range capability.Methods {
			r := m.Ref(name)
			impl := provider.Method(m.Name, m.Desc)
			switch {
			case impl == nil:
				// Keeps the capability default set by reset.
			case CallsUnimplemented(impl):
				delete(t.implemented, r)
			default:
				t.implemented[r] = true
			}
		}
		for _, f := range capability.Fields {
			if _, ok := provider.Field(f.Name, f.Desc); ok {
				t.implemented[ref.Field(name, f.Name, f.Desc, f.Static)] = true
			}
		}
	}
}

// Provider returns the provider registered for a capability.
func (t *Table) Provider(capability string) (string, bool) {
	p, ok := t.providers[capability]
	return p, ok
}

// IsCapability reports whether name is a declared capability.
func (t *Table) IsCapability(name string) bool {
	_, ok := t.capabilities[name]
	return ok
}

// IsImplemented implements Oracle.
func (t *Table) IsImplemented(r ref.Reference) bool {
	provider := t.providers[r.Owner]
	for _, c := range t.opts.Checkers {
		if implemented, ok := c.CheckImplemented(r, provider); ok {
			return implemented
		}
	}
	if !t.IsCapability(r.Owner) {
		return t.opts.ImplementedByDefault
	}
	return t.implemented[r]
}

// CallsUnimplemented reports whether m's body invokes the unimplemented
// sentinel.
func CallsUnimplemented(m *ir.Method) bool {
	for _, in := range m.Body {
		if in.Op == ir.OpInvoke && in.Ref.Name == usage.Unimplemented {
			return true
		}
	}
	return false
}

// Cached memoizes another oracle. It is safe for concurrent use.
type Cached struct {
	oracle Oracle
	cache  *xsync.Map[ref.Reference, bool]
}

// NewCached wraps o.
func NewCached(o Oracle) *Cached {
	return &Cached{
		oracle: o,
		cache:  xsync.NewMap[ref.Reference, bool](),
	}
}

// IsImplemented implements Oracle.
func (c *Cached) IsImplemented(r ref.Reference) bool {
	implemented, ok := c.cache.Load(r)
	if ok {
		return implemented
	}
	implemented = c.oracle.IsImplemented(r)
	c.cache.Store(r, implemented)
	return implemented
}

// Invalidate drops all cached answers, e.g. after registering a provider.
func (c *Cached) Invalidate() {
	c.cache.Clear()
}

// Provider forwards to the wrapped oracle when it tracks providers.
func (c *Cached) Provider(capability string) (string, bool) {
	if p, ok := c.oracle.(interface {
		Provider(string) (string, bool)
	}); ok {
		return p.Provider(capability)
	}
	return "", false
}

// IsCapability forwards to the wrapped oracle when it tracks capabilities.
func (c *Cached) IsCapability(name string) bool {
	if p, ok := c.oracle.(interface{ IsCapability(string) bool }); ok {
		return p.IsCapability(name)
	}
	return false
}
