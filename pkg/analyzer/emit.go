package analyzer

import (
	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/sim"
)

// emitter produces output instructions once the run is finalised.
type emitter interface {
	emit(out []ir.Instr) []ir.Instr
}

type plain ir.Instr

func (p plain) emit(out []ir.Instr) []ir.Instr {
	return append(out, ir.Instr(p))
}

// closureEmitter emits a closure creation, or a null in its place when the
// closure was discarded.
type closureEmitter struct {
	in      ir.Instr
	closure *sim.Closure
}

func (e *closureEmitter) emit(out []ir.Instr) []ir.Instr {
	if !e.closure.Discard {
		return append(out, e.in)
	}
	for range e.closure.Captured {
		out = append(out, ir.Simple(ir.OpPop))
	}
	return append(out, ir.Simple(ir.OpNull))
}

// guard emits a missing-capability failure before a use of target when the
// enclosing unit ended up required.
type guard struct {
	target ref.Reference
	owner  *UnitAnalysis
}

func (g guard) emit(out []ir.Instr) []ir.Instr {
	if g.owner.Counter < 0 {
		out = append(out, ir.Fail(g.target))
	}
	return out
}
