package configql

import (
	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/configql/ast"
)

// Value is an opaque compiled expression produced by the query compiler.
type Value interface{}

// OpCommon carries the fields shared by all configuration mutations.
// Nodes are constructed once per statement compilation and never mutated
// afterwards.
type OpCommon struct {
	// Name is the resolved setting name (the pointer name on the root
	// configuration object, even when the statement named an object type).
	Name            string
	Cardinality     catalog.Cardinality
	Scope           ast.Scope
	RequiresRestart bool
	// BackendSetting is the backing-store parameter this setting maps
	// onto, empty when the setting is served entirely by the server.
	BackendSetting string
	// SrcPos is the statement source location, for error reporting in the
	// execution layer.
	SrcPos ast.Position
}

// Op is a compiled configuration mutation.
type Op interface {
	Common() *OpCommon
	OpName() string
}

// ConfigSet assigns a constant value to a setting.
type ConfigSet struct {
	OpCommon
	// Expr is the compiled value expression.
	Expr Value
	// Const is the compile-time constant Expr folds to.
	Const interface{}
}

func (op *ConfigSet) Common() *OpCommon { return &op.OpCommon }
func (op *ConfigSet) OpName() string    { return "SET" }

// ConfigReset restores a setting to its default, optionally filtering
// which configuration objects are removed.
type ConfigReset struct {
	OpCommon
	// Selector is the compiled selection of the objects to remove. It is
	// nil for primitive-typed settings.
	Selector Value
}

func (op *ConfigReset) Common() *OpCommon { return &op.OpCommon }
func (op *ConfigReset) OpName() string    { return "RESET" }

// ConfigInsert creates a new configuration object.
type ConfigInsert struct {
	OpCommon
	// Expr is the compiled insert.
	Expr Value
}

func (op *ConfigInsert) Common() *OpCommon { return &op.OpCommon }
func (op *ConfigInsert) OpName() string    { return "INSERT" }
