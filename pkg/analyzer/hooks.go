package analyzer

import (
	"github.com/715d/capdeps/pkg/ref"
)

// A hook is any value passed in Options.Hooks. The analyzer checks each hook
// for the interfaces below and calls the ones it implements. A hook may also
// implement oracle.Checker to answer implementation queries before the oracle.

// CandidateHook decides whether a member is tracked as a dependency. The
// second result is false when the hook has no opinion; the first definitive
// answer wins and members no hook claims are not tracked.
type CandidateHook interface {
	IsDependencyCandidate(ctx *Context, r ref.Reference) (candidate bool, ok bool)
}

// ReferenceHookFactory attaches hooks to units as propagation reaches them.
// Returning nil attaches nothing.
type ReferenceHookFactory interface {
	RequiredReference(ctx *Context, a *UnitAnalysis) ReferenceHook
	OptionalReference(ctx *Context, a *UnitAnalysis) ReferenceHook
}

// ReferenceHook observes propagation events of the unit it is attached to.
type ReferenceHook interface {
	RequiredReference(ctx *Context)
	OptionalReference(ctx *Context)
	OptionalBlockDiscarded(ctx *Context)
	PostAnalyze()
}

// MethodHook observes method bodies being entered and left.
type MethodHook interface {
	EnterMethod(ctx *Context)
	LeaveMethod(ctx *Context)
}

// NopReferenceHook implements ReferenceHook with no-ops, for embedding.
type NopReferenceHook struct{}

func (NopReferenceHook) RequiredReference(*Context)      {}
func (NopReferenceHook) OptionalReference(*Context)      {}
func (NopReferenceHook) OptionalBlockDiscarded(*Context) {}
func (NopReferenceHook) PostAnalyze()                    {}

// CapabilitySet reports which units are capabilities.
type CapabilitySet interface {
	IsCapability(name string) bool
}

// CapabilityHook tracks every member of a capability unit.
type CapabilityHook struct {
	Capabilities CapabilitySet
}

// IsDependencyCandidate implements CandidateHook.
func (h CapabilityHook) IsDependencyCandidate(_ *Context, r ref.Reference) (bool, bool) {
	if h.Capabilities.IsCapability(r.Owner) {
		return true, true
	}
	return false, false
}

// Providers answers which provider backs a capability.
type Providers interface {
	CapabilitySet
	Provider(capability string) (string, bool)
}

// FieldHook tracks fields whose type is a capability. Such a field counts as
// implemented when a provider of its type is registered.
type FieldHook struct {
	Providers Providers
}

// IsDependencyCandidate implements CandidateHook.
func (h FieldHook) IsDependencyCandidate(_ *Context, r ref.Reference) (bool, bool) {
	if r.IsField() && h.Providers.IsCapability(r.Desc) {
		return true, true
	}
	return false, false
}

// CheckImplemented implements oracle.Checker.
func (h FieldHook) CheckImplemented(r ref.Reference, _ string) (bool, bool) {
	if !r.IsField() || !h.Providers.IsCapability(r.Desc) {
		return false, false
	}
	_, ok := h.Providers.Provider(r.Desc)
	return ok, true
}

// TraceHook logs method entry and propagation events at debug level.
type TraceHook struct{}

// EnterMethod implements MethodHook.
func (TraceHook) EnterMethod(ctx *Context) {
	ctx.Logger().Debug("enter", "method", ctx.Current().Ref.String(), "depth", ctx.Depth())
}

// LeaveMethod implements MethodHook.
func (TraceHook) LeaveMethod(ctx *Context) {
	ctx.Logger().Debug("leave", "method", ctx.Current().Ref.String(), "depth", ctx.Depth())
}

// RequiredReference implements ReferenceHookFactory.
func (TraceHook) RequiredReference(ctx *Context, a *UnitAnalysis) ReferenceHook {
	ctx.Logger().Debug("required", "unit", a.Ref.String(), "counter", a.Counter)
	return nil
}

// OptionalReference implements ReferenceHookFactory.
func (TraceHook) OptionalReference(ctx *Context, a *UnitAnalysis) ReferenceHook {
	ctx.Logger().Debug("optional", "unit", a.Ref.String(), "counter", a.Counter)
	return nil
}
