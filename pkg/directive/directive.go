// Package directive parses the comment directives attached to methods:
// //capdeps:required and //capdeps:optional override whether a method is an
// analysis root, and //nolint:capdeps or //lint:ignore capdeps suppress
// findings for it.
package directive

import (
	"regexp"
	"strings"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
)

// Kind is the kind of a directive.
type Kind int

const (
	// KindRequired marks a method as a root whose dependencies are required.
	KindRequired Kind = iota

	// KindOptional stops a public method from being a root.
	KindOptional

	// KindSuppress silences findings for the method.
	KindSuppress
)

func (k Kind) String() string {
	switch k {
	case KindRequired:
		return "required"
	case KindOptional:
		return "optional"
	default:
		return "suppress"
	}
}

// Directive is one parsed directive.
type Directive struct {
	Kind   Kind
	Reason string
}

var (
	// capdepsPattern matches //capdeps:required and //capdeps:optional
	capdepsPattern = regexp.MustCompile(`^//\s*capdeps:(required|optional)(?:\s+(.+))?$`)

	// nolintPattern matches //nolint:capdeps comments
	nolintPattern = regexp.MustCompile(`^//\s*nolint:capdeps(?:\s+//\s*(.+))?$`)

	// lintIgnorePattern matches //lint:ignore capdeps comments
	lintIgnorePattern = regexp.MustCompile(`^//\s*lint:ignore\s+capdeps(?:\s+(.+))?$`)

	// genericNolintPattern matches //nolint comments without specific linter
	genericNolintPattern = regexp.MustCompile(`^//\s*nolint(?:\s|$)`)

	// nolintWithMultipleRules matches nolint with multiple comma-separated rules
	nolintWithMultipleRules = regexp.MustCompile(`^//\s*nolint:([^/\s]+)(?:\s+//\s*(.+))?`)
)

// Parse parses one comment line. It returns false for comments that are not
// directives.
func Parse(text string) (Directive, bool) {
	text = strings.TrimSpace(text)

	if m := capdepsPattern.FindStringSubmatch(text); m != nil {
		kind := KindRequired
		if m[1] == "optional" {
			kind = KindOptional
		}
		return Directive{Kind: kind, Reason: strings.TrimSpace(m[2])}, true
	}
	if m := nolintPattern.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindSuppress, Reason: strings.TrimSpace(m[1])}, true
	}
	if m := lintIgnorePattern.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindSuppress, Reason: strings.TrimSpace(m[1])}, true
	}
	if genericNolintPattern.MatchString(text) {
		return Directive{Kind: KindSuppress}, true
	}
	if m := nolintWithMultipleRules.FindStringSubmatch(text); m != nil {
		for rule := range strings.SplitSeq(m[1], ",") {
			if strings.TrimSpace(rule) == "capdeps" {
				return Directive{Kind: KindSuppress, Reason: strings.TrimSpace(m[2])}, true
			}
		}
	}
	return Directive{}, false
}

// Set indexes the directives of every method in a set of units.
type Set struct {
	byMethod map[ref.Reference][]Directive
}

// Load parses the directives of every method in units.
func Load(units ...*ir.Unit) *Set {
	s := &Set{byMethod: make(map[ref.Reference][]Directive)}
	for _, u := range units {
		for _, m := range u.Methods {
			for _, line := range m.Directives {
				if d, ok := Parse(line); ok {
					r := m.Ref(u.Name)
					s.byMethod[r] = append(s.byMethod[r], d)
				}
			}
		}
	}
	return s
}

// Of returns the directives of a method.
func (s *Set) Of(r ref.Reference) []Directive {
	return s.byMethod[r]
}

func (s *Set) find(r ref.Reference, kind Kind) (Directive, bool) {
	for _, d := range s.byMethod[r] {
		if d.Kind == kind {
			return d, true
		}
	}
	return Directive{}, false
}

// IsSuppressed reports whether findings for r are suppressed, and why.
func (s *Set) IsSuppressed(r ref.Reference) (bool, string) {
	d, ok := s.find(r, KindSuppress)
	if !ok {
		return false, ""
	}
	reason := d.Reason
	if reason == "" {
		reason = "suppressed"
	}
	return true, reason
}

// IsRoot decides whether m of unit is a required root: directives win over
// the public flag, and optional wins over required.
func (s *Set) IsRoot(unit string, m *ir.Method) bool {
	r := m.Ref(unit)
	if _, ok := s.find(r, KindOptional); ok {
		return false
	}
	if _, ok := s.find(r, KindRequired); ok {
		return true
	}
	return m.Public
}
