package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureStringForms(t *testing.T) {
	cases := []struct {
		sig  Signature
		want string
	}{
		{Signature{Name: "add", Arity: 2, Kind: KindMethod}, "add(_,_)"},
		{Signature{Name: "isEmpty", Kind: KindGetter}, "isEmpty"},
		{Signature{Name: "value", Arity: 1, Kind: KindSetter}, "value=(_)"},
		{Signature{Name: "", Arity: 1, Kind: KindSubscriptGetter}, "[_]"},
		{Signature{Name: "", Arity: 2, Kind: KindSubscriptSetter}, "[_]=(_)"},
		{Signature{Name: "new", Arity: 1, Kind: KindInitializer}, "init new(_)"},
		{Signature{Name: "create", Kind: KindMethod, Static: true}, "static create()"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.sig.String())
	}
}

func TestIDIsDeterministicAndIdempotent(t *testing.T) {
	s := Signature{Name: "call", Arity: 1, Kind: KindMethod}
	id1 := ID(s)
	id2 := ID(s)
	assert.Equal(t, id1, id2)

	r := NewRegistry()
	a := r.Intern(s)
	b := r.Intern(s)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryLookupRoundTrips(t *testing.T) {
	r := NewRegistry()
	s := Signature{Name: "toString", Kind: KindGetter}
	id := r.Intern(s)
	got, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestDistinctSignaturesGetDistinctIDs(t *testing.T) {
	r := NewRegistry()
	a := r.Intern(Signature{Name: "call", Arity: 1, Kind: KindMethod})
	b := r.Intern(Signature{Name: "call", Arity: 2, Kind: KindMethod})
	c := r.Intern(Signature{Name: "call", Arity: 1, Kind: KindMethod, Static: true})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 3, r.Len())
}
