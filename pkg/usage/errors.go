package usage

import "github.com/715d/capdeps/pkg/ref"

// MissingCapabilityError is raised when required code reaches a capability
// member that is not implemented.
type MissingCapabilityError struct {
	// Ref is the missing member. It is zero when raised by the unimplemented
	// sentinel itself.
	Ref ref.Reference
}

func (e *MissingCapabilityError) Error() string {
	if e.Ref.IsZero() {
		return "capability not implemented"
	}
	return e.Ref.String() + " is not implemented"
}

// NoneImplementedError is raised when no alternative of a requireOneOf group
// is implemented.
type NoneImplementedError struct{}

func (e *NoneImplementedError) Error() string {
	return "none of the alternatives are implemented"
}
