package ir

import (
	"fmt"
	"io"
	"strings"

	"github.com/715d/capdeps/pkg/ref"
)

// Fprint writes u in assembly form. The output parses back to an equal unit.
func Fprint(w io.Writer, u *Unit) error {
	var b strings.Builder
	kind := "unit"
	if u.Capability {
		kind = "capability"
	}
	fmt.Fprintf(&b, "%s %s", kind, u.Name)
	if len(u.Implements) > 0 {
		fmt.Fprintf(&b, " implements %s", strings.Join(u.Implements, ","))
	}
	b.WriteByte('\n')

	for _, f := range u.Fields {
		fmt.Fprintf(&b, "field %s %s", f.Name, f.Desc)
		if f.Static {
			b.WriteString(" static")
		}
		b.WriteByte('\n')
	}

	for _, m := range u.Methods {
		b.WriteByte('\n')
		for _, d := range m.Directives {
			b.WriteString(d)
			b.WriteByte('\n')
		}
		b.WriteString("func ")
		if m.Public {
			b.WriteString("public ")
		}
		if m.Static {
			b.WriteString("static ")
		}
		fmt.Fprintf(&b, "%s %s", m.Name, m.Desc)
		if extra := extraLocals(m); len(extra) > 0 {
			fmt.Fprintf(&b, " locals %s", strings.Join(extra, " "))
		}
		b.WriteByte('\n')
		for _, in := range m.Body {
			if in.Op == OpLabel {
				fmt.Fprintf(&b, "%s:\n", in.Label)
				continue
			}
			fmt.Fprintf(&b, "    %s\n", in)
		}
		b.WriteString("end\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Sprint returns u in assembly form.
func Sprint(u *Unit) string {
	var b strings.Builder
	_ = Fprint(&b, u)
	return b.String()
}

func extraLocals(m *Method) []string {
	implicit := 0
	if !m.Static {
		implicit++
	}
	if sig, err := ref.ParseSignature(m.Desc); err == nil {
		implicit += sig.Arity()
	}
	if len(m.Locals) <= implicit {
		return nil
	}
	return m.Locals[implicit:]
}
