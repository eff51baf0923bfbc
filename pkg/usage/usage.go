// Package usage defines the intrinsic vocabulary that capability-aware code is
// written against, and the errors raised when a capability is missing.
//
// Code declares optional use of a capability with optionally and a choice
// between alternatives with requireOneOf. The analyzer replaces both with the
// substitutes below when the wrapped capabilities are not implemented.
package usage

import "github.com/715d/capdeps/pkg/ref"

// Owner is the unit that declares the intrinsics.
const Owner = "capdeps/Usage"

// Closure and result types used in intrinsic descriptors.
const (
	SupplierType = "capdeps/Supplier"
	RunnableType = "capdeps/Runnable"
	OptionalType = "capdeps/Optional"
)

var (
	// OptionallyValue runs a supplier and returns its result as a present Optional.
	OptionallyValue = ref.Method(Owner, "optionally", "("+SupplierType+")"+OptionalType, true)

	// OptionallyRun runs a runnable and returns true.
	OptionallyRun = ref.Method(Owner, "optionally", "("+RunnableType+")bool", true)

	// RequireOneOf runs the first implemented supplier. It must be rewritten
	// before execution.
	RequireOneOf = ref.Method(Owner, "requireOneOf", "([]"+SupplierType+")any", true)

	// NotPresentValue replaces OptionallyValue: returns an empty Optional.
	NotPresentValue = ref.Method(Owner, "notPresentOptional", "("+SupplierType+")"+OptionalType, true)

	// NotPresentRun replaces OptionallyRun: returns false.
	NotPresentRun = ref.Method(Owner, "notPresentBool", "("+RunnableType+")bool", true)

	// OnePresent replaces RequireOneOf when an alternative was chosen: it runs
	// the only non-null supplier.
	OnePresent = ref.Method(Owner, "onePresent", "([]"+SupplierType+")any", true)

	// NonePresent replaces RequireOneOf when no alternative is implemented.
	NonePresent = ref.Method(Owner, "nonePresent", "([]"+SupplierType+")any", true)
)

// Substitute returns the replacement of an optionally intrinsic.
func Substitute(r ref.Reference) (ref.Reference, bool) {
	switch r {
	case OptionallyValue:
		return NotPresentValue, true
	case OptionallyRun:
		return NotPresentRun, true
	}
	return ref.Reference{}, false
}

// IsOptionally reports whether r is one of the optionally shapes.
func IsOptionally(r ref.Reference) bool {
	return r == OptionallyValue || r == OptionallyRun
}

// IsIntrinsic reports whether r is declared by Owner.
func IsIntrinsic(r ref.Reference) bool {
	return r.Owner == Owner
}

// Sentinel names. A capability member whose body calls Unimplemented is not
// implemented by that body.
const (
	Unimplemented = "unimplemented"
	IsImplemented = "isImplemented"
	Constructor   = "<init>"
)

// IsSpecial reports whether a member is excluded from dependency tracking.
func IsSpecial(r ref.Reference) bool {
	switch r.Name {
	case Unimplemented, IsImplemented, Constructor:
		return true
	}
	return false
}

// Optional is the runtime value produced by OptionallyValue and NotPresentValue.
type Optional struct {
	Value   any
	Present bool
}

// Get returns the value and whether it is present.
func (o Optional) Get() (any, bool) {
	return o.Value, o.Present
}

// OrElse returns the value if present, otherwise v.
func (o Optional) OrElse(v any) any {
	if o.Present {
		return o.Value
	}
	return v
}
