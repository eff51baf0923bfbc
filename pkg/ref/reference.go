// Package ref defines the identity of methods and fields in a program.
package ref

import (
	"fmt"
	"strings"
)

// Reference identifies a method or a field by owner, name, descriptor and
// static-ness. It is a comparable value and can be used directly as a map key.
type Reference struct {
	// Owner is the name of the compilation unit declaring the member, e.g. "cap/Abc".
	Owner string `cbor:"1,keyasint" yaml:"owner"`

	// Name is the member name.
	Name string `cbor:"2,keyasint" yaml:"name"`

	// Desc is the descriptor. Methods use "(T1,T2)R", fields a bare type.
	Desc string `cbor:"3,keyasint" yaml:"desc"`

	// Static reports whether the member is static.
	Static bool `cbor:"4,keyasint,omitempty" yaml:"static,omitempty"`
}

// Method returns a method reference.
func Method(owner, name, desc string, static bool) Reference {
	return Reference{Owner: owner, Name: name, Desc: desc, Static: static}
}

// Field returns a field reference.
func Field(owner, name, desc string, static bool) Reference {
	return Reference{Owner: owner, Name: name, Desc: desc, Static: static}
}

// IsZero reports whether r is the zero Reference.
func (r Reference) IsZero() bool {
	return r == Reference{}
}

// IsField reports whether r denotes a field. Only method descriptors start
// with a parenthesis.
func (r Reference) IsField() bool {
	return !strings.HasPrefix(r.Desc, "(")
}

// Signature parses the method descriptor of r.
func (r Reference) Signature() (Signature, error) {
	return ParseSignature(r.Desc)
}

// Member renders "owner.name", the form used in assembly and reports.
func (r Reference) Member() string {
	return r.Owner + "." + r.Name
}

func (r Reference) String() string {
	if r.IsField() {
		return fmt.Sprintf("field %s.%s:%s", r.Owner, r.Name, r.Desc)
	}
	return fmt.Sprintf("method %s.%s%s", r.Owner, r.Name, r.Desc)
}

// Compare orders references by owner, name, descriptor, then static-ness.
func Compare(a, b Reference) int {
	if c := strings.Compare(a.Owner, b.Owner); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := strings.Compare(a.Desc, b.Desc); c != 0 {
		return c
	}
	switch {
	case a.Static == b.Static:
		return 0
	case b.Static:
		return -1
	default:
		return 1
	}
}

// SplitMember splits "owner.name" at the last dot.
func SplitMember(s string) (owner, name string, err error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("malformed member %q: want owner.name", s)
	}
	return s[:i], s[i+1:], nil
}

// Parse parses the assembly form "owner.name desc". A trailing "static"
// token marks the reference static.
func Parse(s string) (Reference, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 || len(fields) > 3 {
		return Reference{}, fmt.Errorf("malformed reference %q: want \"owner.name desc [static]\"", s)
	}
	owner, name, err := SplitMember(fields[0])
	if err != nil {
		return Reference{}, err
	}
	r := Reference{Owner: owner, Name: name, Desc: fields[1]}
	if len(fields) == 3 {
		if fields[2] != "static" {
			return Reference{}, fmt.Errorf("malformed reference %q: unexpected %q", s, fields[2])
		}
		r.Static = true
	}
	if !r.IsField() {
		if _, err := ParseSignature(r.Desc); err != nil {
			return Reference{}, err
		}
	}
	return r, nil
}
