package usage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/capdeps/pkg/ref"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name string
		in   ref.Reference
		want ref.Reference
		ok   bool
	}{
		{name: "value shape", in: OptionallyValue, want: NotPresentValue, ok: true},
		{name: "bool shape", in: OptionallyRun, want: NotPresentRun, ok: true},
		{name: "requireOneOf", in: RequireOneOf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Substitute(tt.in)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitutesKeepArgumentShape(t *testing.T) {
	for _, pair := range [][2]ref.Reference{
		{OptionallyValue, NotPresentValue},
		{OptionallyRun, NotPresentRun},
		{RequireOneOf, OnePresent},
		{RequireOneOf, NonePresent},
	} {
		a, err := pair[0].Signature()
		require.NoError(t, err)
		b, err := pair[1].Signature()
		require.NoError(t, err)
		assert.Equal(t, a, b, "%s vs %s", pair[0], pair[1])
	}
}

func TestIsSpecial(t *testing.T) {
	assert.True(t, IsSpecial(ref.Method("cap/Abc", "unimplemented", "()any", false)))
	assert.True(t, IsSpecial(ref.Method("cap/Abc", "isImplemented", "()bool", false)))
	assert.True(t, IsSpecial(ref.Method("impl/X", "<init>", "()void", false)))
	assert.False(t, IsSpecial(ref.Method("cap/Abc", "a", "()string", false)))
}

func TestErrors(t *testing.T) {
	missing := &MissingCapabilityError{Ref: ref.Method("cap/Abc", "b", "()string", false)}
	assert.Equal(t, "method cap/Abc.b()string is not implemented", missing.Error())
	assert.Equal(t, "capability not implemented", (&MissingCapabilityError{}).Error())

	wrapped := fmt.Errorf("run test/T.testC: %w", missing)
	var target *MissingCapabilityError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, missing.Ref, target.Ref)

	var none *NoneImplementedError
	assert.True(t, errors.As(fmt.Errorf("x: %w", &NoneImplementedError{}), &none))
}

func TestOptional(t *testing.T) {
	assert.Equal(t, "ABC", Optional{}.OrElse("ABC"))
	assert.Equal(t, "e", Optional{Value: "e", Present: true}.OrElse("ABC"))
}
