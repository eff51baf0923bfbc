package analyzer

import (
	"slices"

	"github.com/715d/capdeps/pkg/ref"
)

// Direct is a dependency of a class on one capability member.
type Direct struct {
	Target   ref.Reference `json:"target" yaml:"target"`
	Optional bool          `json:"optional" yaml:"optional"`

	// Owner is the method whose body uses Target.
	Owner ref.Reference `json:"owner" yaml:"owner"`
}

// OneOf records one requireOneOf call site.
type OneOf struct {
	// Owner is the method containing the call.
	Owner ref.Reference `json:"owner" yaml:"owner"`

	// Chosen holds the dependencies of the alternative that was kept, empty
	// when none was implemented.
	Chosen []Direct `json:"chosen,omitempty" yaml:"chosen,omitempty"`

	// Rejected holds the dependencies of the alternatives that were dropped.
	Rejected []Direct `json:"rejected,omitempty" yaml:"rejected,omitempty"`

	// Satisfied is false when no alternative was implemented.
	Satisfied bool `json:"satisfied" yaml:"satisfied"`
}

// Set collects the dependencies found while analysing one class.
type Set struct {
	direct []Direct
	groups []*OneOf
}

func (s *Set) add(d Direct) {
	s.direct = append(s.direct, d)
}

func (s *Set) addGroup(g *OneOf) {
	s.groups = append(s.groups, g)
}

// classify settles required entries by the final counter of the method that
// recorded them. Entries recorded optional stay optional.
func (s *Set) classify(lookup func(ref.Reference) *UnitAnalysis) {
	for i, d := range s.direct {
		if d.Optional {
			continue
		}
		if owner := lookup(d.Owner); owner != nil {
			s.direct[i].Optional = owner.Counter >= 0
		}
	}
}

// dedup returns one entry per target, required over optional, sorted by
// target.
func (s *Set) dedup() []Direct {
	byTarget := make(map[ref.Reference]Direct, len(s.direct))
	for _, d := range s.direct {
		prev, ok := byTarget[d.Target]
		if !ok || (prev.Optional && !d.Optional) {
			byTarget[d.Target] = d
		}
	}
	out := make([]Direct, 0, len(byTarget))
	for _, d := range byTarget {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Direct) int {
		return ref.Compare(a.Target, b.Target)
	})
	return out
}
