package classification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	reg := NewBuilder().
		Set("Customer", "ssn", Sensitive).
		Set("Customer", "email", Personal).
		Set("Customer", "name", Public).
		Build()

	t.Run("returns configured tags", func(t *testing.T) {
		assert.Equal(t, Sensitive, reg.Classify("Customer", "ssn"))
		assert.Equal(t, Personal, reg.Classify("Customer", "email"))
		assert.Equal(t, Public, reg.Classify("Customer", "name"))
	})

	t.Run("unknown pairs default to public", func(t *testing.T) {
		assert.Equal(t, Public, reg.Classify("Customer", "favouriteColour"))
		assert.Equal(t, Public, reg.Classify("Incident", "ssn"))
	})

	t.Run("nil registry is total", func(t *testing.T) {
		var nilReg *Registry
		assert.Equal(t, Public, nilReg.Classify("Customer", "ssn"))
	})
}

func TestBuildFreezesTags(t *testing.T) {
	b := NewBuilder().Set("Customer", "ssn", Sensitive)
	reg := b.Build()

	b.Set("Customer", "ssn", Public)
	b.Set("Customer", "iban", Sensitive)

	assert.Equal(t, Sensitive, reg.Classify("Customer", "ssn"))
	assert.Equal(t, Public, reg.Classify("Customer", "iban"))
}

func TestPartition(t *testing.T) {
	reg := NewBuilder().
		Set("Customer", "ssn", Sensitive).
		Set("Customer", "email", Personal).
		Set("Customer", "phone", Personal).
		Build()

	parts := reg.Partition("Customer", []string{"name", "email", "ssn", "phone"})
	assert.Equal(t, []string{"ssn"}, parts[Sensitive])
	assert.Equal(t, []string{"email", "phone"}, parts[Personal])
	assert.Equal(t, []string{"name"}, parts[Public])
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Classification{
		"":          Public,
		"public":    Public,
		"Personal":  Personal,
		"SENSITIVE": Sensitive,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("secret")
	require.Error(t, err)
}
