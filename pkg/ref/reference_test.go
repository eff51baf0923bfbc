package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReference_IsField(t *testing.T) {
	tests := []struct {
		name string
		ref  Reference
		want bool
	}{
		{name: "method", ref: Method("cap/Abc", "a", "()string", false), want: false},
		{name: "static method", ref: Method("test/T", "run", "(int)void", true), want: false},
		{name: "field", ref: Field("cap/Abc", "size", "int", false), want: true},
		{name: "capability typed field", ref: Field("test/T", "abc", "cap/Abc", true), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ref.IsField())
		})
	}
}

func TestReference_Identity(t *testing.T) {
	a := Method("cap/Abc", "a", "()string", false)
	b := Method("cap/Abc", "a", "()string", false)
	c := Method("cap/Abc", "a", "(int)string", false)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c, "different descriptors must be different identities")

	m := map[Reference]int{a: 1}
	m[b]++
	m[c]++
	require.Len(t, m, 2)
	require.Equal(t, 2, m[a])
}

func TestReference_String(t *testing.T) {
	assert.Equal(t, "method cap/Abc.a()string", Method("cap/Abc", "a", "()string", false).String())
	assert.Equal(t, "field cap/Abc.size:int", Field("cap/Abc", "size", "int", false).String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        Reference
		expectError bool
	}{
		{
			name:  "instance method",
			input: "cap/Abc.a ()string",
			want:  Method("cap/Abc", "a", "()string", false),
		},
		{
			name:  "static method",
			input: "test/T.lambda$0 (cap/Abc)string static",
			want:  Method("test/T", "lambda$0", "(cap/Abc)string", true),
		},
		{
			name:  "field",
			input: "test/T.abc cap/Abc",
			want:  Field("test/T", "abc", "cap/Abc", false),
		},
		{name: "missing descriptor", input: "cap/Abc.a", expectError: true},
		{name: "missing owner", input: "a ()void", expectError: true},
		{name: "bad flag", input: "cap/Abc.a ()void final", expectError: true},
		{name: "bad descriptor", input: "cap/Abc.a (int", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name        string
		desc        string
		params      []string
		result      string
		expectError bool
	}{
		{name: "no params", desc: "()void", result: "void"},
		{name: "two params", desc: "(int,cap/Abc)string", params: []string{"int", "cap/Abc"}, result: "string"},
		{name: "array param", desc: "([]capdeps/Supplier)any", params: []string{"[]capdeps/Supplier"}, result: "any"},
		{name: "field descriptor", desc: "int", expectError: true},
		{name: "empty result", desc: "(int)", expectError: true},
		{name: "empty param", desc: "(int,)void", expectError: true},
		{name: "void param", desc: "(void)void", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseSignature(tt.desc)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params, sig.Params)
			assert.Equal(t, tt.result, sig.Result)
			assert.Equal(t, tt.desc, sig.String())
		})
	}
}

func TestCompare(t *testing.T) {
	a := Method("a/A", "x", "()void", false)
	b := Method("a/A", "y", "()void", false)
	require.Negative(t, Compare(a, b))
	require.Positive(t, Compare(b, a))
	require.Zero(t, Compare(a, a))

	s := a
	s.Static = true
	require.Negative(t, Compare(a, s))
}
