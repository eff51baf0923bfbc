package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/715d/capdeps/pkg/ref"
)

var (
	// ErrIntrinsicShape is returned when an intrinsic is not called with the
	// closure or closure array it requires.
	ErrIntrinsicShape = errors.New("unresolved intrinsic shape")

	// ErrMalformed is returned for method bodies the analyzer cannot process.
	ErrMalformed = errors.New("malformed method")

	// ErrAborted is returned by every call on a run that already failed.
	ErrAborted = errors.New("analysis run aborted")
)

// Error is an analysis failure of one method. The run that produced it is
// aborted and emits nothing.
type Error struct {
	// Ref is the method whose body failed.
	Ref ref.Reference

	// Trace is the stack of methods being analysed, outermost first.
	Trace []ref.Reference

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analyze %s: %v", e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FormatTrace renders the analysis trace, one frame per line.
func (e *Error) FormatTrace() string {
	var b strings.Builder
	for i, r := range e.Trace {
		fmt.Fprintf(&b, "%s%s\n", strings.Repeat("  ", i), r)
	}
	return b.String()
}

func wrapError(target ref.Reference, trace []ref.Reference, err error) error {
	var aerr *Error
	if errors.As(err, &aerr) {
		return err
	}
	return &Error{Ref: target, Trace: trace, Err: err}
}
