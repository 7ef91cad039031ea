package configql

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/configql/ast"
	"github.com/helixdb/helix/errs"
)

// testSchema builds the configuration catalog fixture:
//
//	cfg::AbstractConfig
//	    listen_addresses: std::str (many, system, requires_restart)
//	    listen_port: std::int64 (system, backend-mapped)
//	    query_work_mem: std::int64 (affects_compilation)
//	    auth -> cfg::Auth (many, system)
//	cfg::Auth.method -> cfg::AuthMethod
//	cfg::Trust, cfg::SCRAM extend cfg::AuthMethod
func testSchema() *catalog.MemorySchema {
	s := catalog.NewMemorySchema()
	str := s.AddScalar("std::str")
	i64 := s.AddScalar("std::int64")

	base := s.AddObject("cfg::ConfigObject")
	auth := s.AddObject("cfg::Auth", base)
	method := s.AddObject("cfg::AuthMethod", base)
	s.AddObject("cfg::Trust", method)
	s.AddObject("cfg::SCRAM", method)

	root := s.AddObject("cfg::AbstractConfig")
	s.AddPointer(root, "listen_addresses", str, catalog.Many, map[string]string{
		"cfg::system":           "true",
		"cfg::requires_restart": "true",
	})
	s.AddPointer(root, "listen_port", i64, catalog.AtMostOne, map[string]string{
		"cfg::system":          "true",
		"cfg::backend_setting": `"port"`,
	})
	s.AddPointer(root, "query_work_mem", i64, catalog.AtMostOne, map[string]string{
		"cfg::affects_compilation": "true",
	})
	s.AddPointer(root, "auth", auth, catalog.Many, map[string]string{
		"cfg::system": "true",
	})
	s.AddPointer(auth, "priority", i64, catalog.One, nil)
	s.AddPointer(auth, "method", method, catalog.One, nil)
	return s
}

func setStmt(scope ast.Scope, name string) *ast.ConfigSet {
	return ast.NewConfigSet(ast.At(1, 1), scope,
		ast.ObjectRef{Name: name},
		&ast.Literal{Value: int64(1)})
}

func TestResolveScalar(t *testing.T) {
	s := testSchema()

	info, err := Resolve(s, setStmt(ast.ScopeInstance, "listen_port"))
	require.NoError(t, err)
	require.Equal(t, "listen_port", info.Name)
	require.Equal(t, catalog.AtMostOne, info.Cardinality)
	require.False(t, info.RequiresRestart)
	require.Equal(t, "port", info.BackendSetting)
	require.False(t, info.AffectsCompilation)

	info, err = Resolve(s, setStmt(ast.ScopeInstance, "listen_addresses"))
	require.NoError(t, err)
	require.True(t, info.RequiresRestart)
	require.Equal(t, "", info.BackendSetting)

	info, err = Resolve(s, setStmt(ast.ScopeSession, "query_work_mem"))
	require.NoError(t, err)
	require.True(t, info.AffectsCompilation)
}

func TestResolveUnknownParameter(t *testing.T) {
	s := testSchema()
	_, err := Resolve(s, setStmt(ast.ScopeInstance, "bogus"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestResolveBadModule(t *testing.T) {
	s := testSchema()
	stmt := ast.NewConfigSet(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Module: "std", Name: "listen_port"},
		&ast.Literal{Value: int64(1)})
	_, err := Resolve(s, stmt)
	require.True(t, errs.Is(err, errs.KindQuery))

	stmt = ast.NewConfigSet(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Module: "cfg", Name: "listen_port"},
		&ast.Literal{Value: int64(1)})
	_, err = Resolve(s, stmt)
	require.NoError(t, err)
}

func TestResolveSystemScope(t *testing.T) {
	s := testSchema()
	_, err := Resolve(s, setStmt(ast.ScopeSession, "listen_port"))
	require.True(t, errs.Is(err, errs.KindConfiguration))
	require.Contains(t, err.Error(), "CONFIGURE INSTANCE")

	_, err = Resolve(s, setStmt(ast.ScopeDatabase, "listen_port"))
	require.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestResolveObjectViaAncestorLink(t *testing.T) {
	s := testSchema()

	// Auth is targeted by the root's auth link directly.
	stmt := ast.NewConfigInsert(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Name: "Auth"}, nil)
	info, err := Resolve(s, stmt)
	require.NoError(t, err)
	require.Equal(t, "auth", info.Name)
	require.Equal(t, catalog.Many, info.Cardinality)
	require.Equal(t, "cfg::Auth", info.Type.TypeName().String())
}

func TestResolveObjectNotUnderRoot(t *testing.T) {
	s := testSchema()

	// Trust resolves through cfg::Auth.method, whose source is not the
	// root configuration object.
	stmt := ast.NewConfigInsert(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Name: "Trust"}, nil)
	_, err := Resolve(s, stmt)
	require.True(t, errs.Is(err, errs.KindConfiguration))
	require.Contains(t, err.Error(), "cannot be configured directly")
}

func TestResolveUnknownObject(t *testing.T) {
	s := testSchema()
	stmt := ast.NewConfigReset(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Name: "Nothing"}, nil)
	_, err := Resolve(s, stmt)
	require.True(t, errs.Is(err, errs.KindConfiguration))
	require.Contains(t, err.Error(), "unrecognized configuration object")
}

// Multiple links on the same ancestor qualify; the candidate ordered
// first by source type name then link name must win deterministically.
func TestResolveObjectTieBreak(t *testing.T) {
	s := catalog.NewMemorySchema()
	obj := s.AddObject("cfg::Widget")
	root := s.AddObject("cfg::AbstractConfig")
	s.AddPointer(root, "widgets_b", obj, catalog.Many, nil)
	s.AddPointer(root, "widgets_a", obj, catalog.Many, nil)

	stmt := ast.NewConfigInsert(ast.At(1, 1), ast.ScopeInstance,
		ast.ObjectRef{Name: "Widget"}, nil)
	for i := 0; i < 10; i++ {
		info, err := Resolve(s, stmt)
		require.NoError(t, err)
		require.Equal(t, "widgets_a", info.Name)
	}
}

// Resolution is a pure function of the catalog snapshot.
func TestResolveRoundTrip(t *testing.T) {
	s := testSchema()
	stmt := setStmt(ast.ScopeInstance, "listen_port")

	first, err := Resolve(s, stmt)
	require.NoError(t, err)
	second, err := Resolve(s, stmt)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
