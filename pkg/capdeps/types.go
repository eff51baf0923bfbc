package capdeps

import (
	"github.com/715d/capdeps/pkg/analyzer"
	"github.com/715d/capdeps/pkg/ir"
)

// Finding is one dependency of an analysed class.
type Finding struct {
	Class       string `json:"class" yaml:"class"`
	Target      string `json:"target" yaml:"target"`
	Owner       string `json:"owner" yaml:"owner"`
	Optional    bool   `json:"optional" yaml:"optional"`
	Implemented bool   `json:"implemented" yaml:"implemented"`
	Suppressed  bool   `json:"suppressed,omitempty" yaml:"suppressed,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ClassReport is the analysis of one class.
type ClassReport struct {
	Class          string            `json:"class" yaml:"class"`
	AllImplemented bool              `json:"all_implemented" yaml:"all_implemented"`
	Findings       []Finding         `json:"findings" yaml:"findings"`
	Groups         []*analyzer.OneOf `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Report is the result of analysing one program.
type Report struct {
	RunID   string        `json:"run_id" yaml:"run_id"`
	Classes []ClassReport `json:"classes" yaml:"classes"`

	// Program is the input with every analysed class rewritten.
	Program *ir.Program `json:"-" yaml:"-"`
}

// Missing returns the required, unimplemented, unsuppressed findings.
func (r *Report) Missing() []Finding {
	var out []Finding
	for _, c := range r.Classes {
		for _, f := range c.Findings {
			if !f.Optional && !f.Implemented && !f.Suppressed {
				out = append(out, f)
			}
		}
	}
	return out
}

// Unsatisfied returns the requireOneOf sites with no implemented alternative.
func (r *Report) Unsatisfied() []*analyzer.OneOf {
	var out []*analyzer.OneOf
	for _, c := range r.Classes {
		for _, g := range c.Groups {
			if !g.Satisfied {
				out = append(out, g)
			}
		}
	}
	return out
}
