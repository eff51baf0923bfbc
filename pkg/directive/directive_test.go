package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/ref"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		comment    string
		wantKind   Kind
		wantReason string
		wantParsed bool
	}{
		{
			name:       "required",
			comment:    "//capdeps:required",
			wantKind:   KindRequired,
			wantParsed: true,
		},
		{
			name:       "required with reason",
			comment:    "// capdeps:required entry point for the scheduler",
			wantKind:   KindRequired,
			wantReason: "entry point for the scheduler",
			wantParsed: true,
		},
		{
			name:       "optional",
			comment:    "//capdeps:optional",
			wantKind:   KindOptional,
			wantParsed: true,
		},
		{
			name:       "nolint basic",
			comment:    "//nolint:capdeps",
			wantKind:   KindSuppress,
			wantParsed: true,
		},
		{
			name:       "nolint with reason",
			comment:    "//nolint:capdeps // provider installed at runtime",
			wantKind:   KindSuppress,
			wantReason: "provider installed at runtime",
			wantParsed: true,
		},
		{
			name:       "lint ignore",
			comment:    "//lint:ignore capdeps legacy path",
			wantKind:   KindSuppress,
			wantReason: "legacy path",
			wantParsed: true,
		},
		{
			name:       "generic nolint",
			comment:    "//nolint",
			wantKind:   KindSuppress,
			wantParsed: true,
		},
		{
			name:       "nolint with multiple rules",
			comment:    "//nolint:deadcode,capdeps // both",
			wantKind:   KindSuppress,
			wantReason: "both",
			wantParsed: true,
		},
		{
			name:    "nolint different rule",
			comment: "//nolint:deadcode",
		},
		{
			name:    "unknown capdeps directive",
			comment: "//capdeps:sometimes",
		},
		{
			name:    "regular comment",
			comment: "// calls the provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Parse(tt.comment)
			require.Equal(t, tt.wantParsed, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

const source = `unit test/D

//capdeps:required
func hidden ()void
    return
end

//capdeps:optional
//nolint:capdeps // probed lazily
func public probe ()void
    return
end

func public plain ()void
    return
end

func private ()void
    return
end
`

func TestSet(t *testing.T) {
	units, err := ir.ParseString("d.casm", source)
	require.NoError(t, err)
	set := Load(units...)
	u := units[0]

	tests := []struct {
		method     string
		root       bool
		suppressed bool
		reason     string
	}{
		{method: "hidden", root: true},
		{method: "probe", root: false, suppressed: true, reason: "probed lazily"},
		{method: "plain", root: true},
		{method: "private", root: false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m := u.Method(tt.method, "()void")
			require.NotNil(t, m)
			assert.Equal(t, tt.root, set.IsRoot(u.Name, m))

			suppressed, reason := set.IsSuppressed(m.Ref(u.Name))
			assert.Equal(t, tt.suppressed, suppressed)
			assert.Equal(t, tt.reason, reason)
		})
	}

	assert.Len(t, set.Of(ref.Method("test/D", "probe", "()void", false)), 2)
}
