package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestSchema(t *testing.T) *MemorySchema {
	s := NewMemorySchema()
	str := s.AddScalar("std::str")
	s.AddScalar("std::int64")

	base := s.AddObject("cfg::ConfigObject")
	auth := s.AddObject("cfg::Auth", base)
	method := s.AddObject("cfg::AuthMethod", base)
	s.AddObject("cfg::Trust", method)

	root := s.AddObject("cfg::AbstractConfig")
	s.AddPointer(root, "listen_addresses", str, Many, nil)
	s.AddPointer(root, "auth", auth, Many, nil)
	s.AddPointer(auth, "method", method, One, nil)
	return s
}

func TestLookupAndPointers(t *testing.T) {
	s := buildTestSchema(t)

	typ, ok := s.LookupType(ParseName("cfg::Auth"))
	require.True(t, ok)
	require.True(t, typ.IsObject())

	root, _ := s.LookupType(ParseName("cfg::AbstractConfig"))
	p, ok := s.Pointer(root.(ObjectType), "listen_addresses")
	require.True(t, ok)
	require.Equal(t, Many, p.PointerCardinality())
	require.False(t, p.Target().IsObject())

	_, ok = s.Pointer(root.(ObjectType), "nonexistent")
	require.False(t, ok)
}

func TestAncestorsMostDerivedFirst(t *testing.T) {
	s := buildTestSchema(t)
	trust, _ := s.LookupType(ParseName("cfg::Trust"))
	anc := s.Ancestors(trust.(ObjectType))
	require.Len(t, anc, 2)
	require.Equal(t, "cfg::AuthMethod", anc[0].TypeName().String())
	require.Equal(t, "cfg::ConfigObject", anc[1].TypeName().String())
}

func TestReferrers(t *testing.T) {
	s := buildTestSchema(t)
	auth, _ := s.LookupType(ParseName("cfg::Auth"))
	refs := s.Referrers(auth)
	require.Len(t, refs, 1)
	require.Equal(t, "auth", refs[0].PointerName())
	require.Equal(t, "cfg::AbstractConfig", refs[0].Source().TypeName().String())
}

func TestIsSubclass(t *testing.T) {
	s := buildTestSchema(t)
	trust, _ := s.LookupType(ParseName("cfg::Trust"))
	method, _ := s.LookupType(ParseName("cfg::AuthMethod"))
	auth, _ := s.LookupType(ParseName("cfg::Auth"))

	require.True(t, s.IsSubclass(trust.(ObjectType), method.(ObjectType)))
	require.True(t, s.IsSubclass(trust.(ObjectType), trust.(ObjectType)))
	require.False(t, s.IsSubclass(trust.(ObjectType), auth.(ObjectType)))
}

func TestParseSnapshotRoundTrip(t *testing.T) {
	data := []byte(`{
		"types": [
			{"name": "std::str", "kind": "scalar"},
			{"name": "cfg::ConfigObject", "kind": "object"},
			{"name": "cfg::AuthMethod", "kind": "object", "bases": ["cfg::ConfigObject"]},
			{"name": "cfg::Trust", "kind": "object", "bases": ["cfg::AuthMethod"]},
			{"name": "cfg::AbstractConfig", "kind": "object", "pointers": [
				{"name": "listen_port", "target": "std::str", "cardinality": "at_most_one",
				 "annotations": {"cfg::system": "true"}}
			]}
		]
	}`)
	s, err := ParseSnapshot(data)
	require.NoError(t, err)

	root, ok := s.LookupType(ParseName("cfg::AbstractConfig"))
	require.True(t, ok)
	p, ok := s.Pointer(root.(ObjectType), "listen_port")
	require.True(t, ok)
	v, ok := p.Annotation(ParseName("cfg::system"))
	require.True(t, ok)
	require.Equal(t, "true", v)

	trust, ok := s.LookupType(ParseName("cfg::Trust"))
	require.True(t, ok)
	require.Len(t, s.Ancestors(trust.(ObjectType)), 2)
}

// A base chain may be listed most-derived first; creation order must not
// depend on how many bases a type declares.
func TestParseSnapshotBaseChainOutOfOrder(t *testing.T) {
	data := []byte(`{
		"types": [
			{"name": "cfg::Trust", "kind": "object", "bases": ["cfg::AuthMethod"]},
			{"name": "cfg::AuthMethod", "kind": "object", "bases": ["cfg::ConfigObject"]},
			{"name": "cfg::ConfigObject", "kind": "object"}
		]
	}`)
	s, err := ParseSnapshot(data)
	require.NoError(t, err)

	trust, ok := s.LookupType(ParseName("cfg::Trust"))
	require.True(t, ok)
	anc := s.Ancestors(trust.(ObjectType))
	require.Len(t, anc, 2)
	require.Equal(t, "cfg::AuthMethod", anc[0].TypeName().String())
	require.Equal(t, "cfg::ConfigObject", anc[1].TypeName().String())
}

func TestParseSnapshotErrors(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"types": [{"name": "x", "kind": "weird"}]}`))
	require.Error(t, err)

	_, err = ParseSnapshot([]byte(`{"types": [
		{"name": "cfg::A", "kind": "object", "bases": ["cfg::Missing"]}
	]}`))
	require.Error(t, err)
}
