package ref

import (
	"fmt"
	"strings"
)

// Void is the result type of methods that return nothing.
const Void = "void"

// Signature is a parsed method descriptor.
type Signature struct {
	Params []string
	Result string
}

// Arity returns the number of declared parameters.
func (s Signature) Arity() int {
	return len(s.Params)
}

// Returns reports whether the method produces a value.
func (s Signature) Returns() bool {
	return s.Result != Void
}

func (s Signature) String() string {
	return "(" + strings.Join(s.Params, ",") + ")" + s.Result
}

// ParseSignature parses a method descriptor of the form "(T1,T2)R".
func ParseSignature(desc string) (Signature, error) {
	if !strings.HasPrefix(desc, "(") {
		return Signature{}, fmt.Errorf("malformed method descriptor %q: missing '('", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return Signature{}, fmt.Errorf("malformed method descriptor %q: missing ')'", desc)
	}
	result := desc[end+1:]
	if result == "" || strings.ContainsAny(result, "(),") {
		return Signature{}, fmt.Errorf("malformed method descriptor %q: bad result type", desc)
	}

	var params []string
	if inner := desc[1:end]; inner != "" {
		for p := range strings.SplitSeq(inner, ",") {
			if p == "" || p == Void {
				return Signature{}, fmt.Errorf("malformed method descriptor %q: bad parameter", desc)
			}
			params = append(params, p)
		}
	}
	return Signature{Params: params, Result: result}, nil
}
