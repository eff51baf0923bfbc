package analyzer

import (
	"log/slog"

	"github.com/715d/capdeps/pkg/oracle"
	"github.com/715d/capdeps/pkg/ref"
	"github.com/715d/capdeps/pkg/sim"
)

// Context is the state of an analysis run visible to hooks: the stack of
// methods being analysed and their simulated operand stacks.
type Context struct {
	run    *Run
	frames []frame
}

type frame struct {
	analysis *UnitAnalysis
	stack    *sim.Stack
}

func (c *Context) push(a *UnitAnalysis, s *sim.Stack) {
	c.frames = append(c.frames, frame{analysis: a, stack: s})
}

func (c *Context) pop() {
	c.frames = c.frames[:len(c.frames)-1]
}

// Current returns the innermost method being analysed, or nil between
// methods.
func (c *Context) Current() *UnitAnalysis {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1].analysis
}

// Stack returns the simulated operand stack of the current method.
func (c *Context) Stack() *sim.Stack {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1].stack
}

// Depth returns the number of methods being analysed.
func (c *Context) Depth() int {
	return len(c.frames)
}

// Trace returns the methods being analysed, outermost first.
func (c *Context) Trace() []ref.Reference {
	trace := make([]ref.Reference, len(c.frames))
	for i, f := range c.frames {
		trace[i] = f.analysis.Ref
	}
	return trace
}

// Oracle returns the implementation oracle of the run.
func (c *Context) Oracle() oracle.Oracle {
	return c.run.oracle
}

// Logger returns the run's logger.
func (c *Context) Logger() *slog.Logger {
	return c.run.log
}
