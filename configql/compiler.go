// Package configql compiles CONFIGURE statements into typed mutation
// descriptors, resolving setting identity and metadata against a catalog
// snapshot. Compilation is free of side effects: a statement either
// compiles fully or fails with a user-facing error, and no server state
// changes either way.
package configql

import (
	"github.com/pkg/errors"

	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/configql/ast"
	"github.com/helixdb/helix/errs"
)

// ErrUnsupportedExpression is reported by ExprCompiler.Evaluate when a
// compiled expression does not reduce to a compile-time constant.
var ErrUnsupportedExpression = errors.New("unsupported expression")

// ExprCompiler is the general query compiler this subsystem delegates
// expression work to.
type ExprCompiler interface {
	// Compile translates a syntax node into a compiled value.
	Compile(node ast.Node) (Value, error)
	// Evaluate reduces a compiled value to a constant, failing with
	// ErrUnsupportedExpression (possibly wrapped) when it cannot.
	Evaluate(v Value) (interface{}, error)
}

// Compiler compiles CONFIGURE statements against a catalog snapshot.
type Compiler struct {
	Schema catalog.Schema
	Exprs  ExprCompiler
}

// CompileSet compiles CONFIGURE <scope> SET. The right-hand expression
// must reduce to a compile-time constant.
func (c *Compiler) CompileSet(stmt *ast.ConfigSet) (*ConfigSet, error) {
	info, err := Resolve(c.Schema, stmt)
	if err != nil {
		return nil, err
	}

	val, err := c.Exprs.Compile(stmt.Expr)
	if err != nil {
		return nil, err
	}
	folded, err := c.Exprs.Evaluate(val)
	if err != nil {
		if errors.Cause(err) == ErrUnsupportedExpression {
			return nil, errs.Queryf(
				"non-constant expression in CONFIGURE %s SET", stmt.Scope)
		}
		return nil, err
	}

	return &ConfigSet{
		OpCommon: c.common(info, stmt.Scope, stmt.Pos()),
		Expr:     val,
		Const:    folded,
	}, nil
}

// CompileReset compiles CONFIGURE <scope> RESET. A filter is only
// meaningful when the target is a configuration object type, in which
// case a selection over the type's full shape is compiled and attached.
func (c *Compiler) CompileReset(stmt *ast.ConfigReset) (*ConfigReset, error) {
	info, err := Resolve(c.Schema, stmt)
	if err != nil {
		return nil, err
	}

	var selector Value
	if !info.Type.IsObject() {
		if stmt.Where != nil {
			return nil, errs.Queryf(
				"RESET of a primitive configuration parameter must not have a FILTER clause")
		}
	} else {
		obj := info.Type.(catalog.ObjectType)
		sel := &ast.SelectQuery{
			Subject: ast.ObjectRef{
				Module: obj.TypeName().Module,
				Name:   obj.TypeName().Name,
			},
			Shape: c.configShape(obj, nil),
			Where: stmt.Where,
		}
		selector, err = c.Exprs.Compile(sel)
		if err != nil {
			return nil, err
		}
	}

	return &ConfigReset{
		OpCommon: c.common(info, stmt.Scope, stmt.Pos()),
		Selector: selector,
	}, nil
}

// CompileInsert compiles CONFIGURE INSTANCE INSERT. Every nested insert
// subtree gets a computed _tname field carrying the most-derived type
// name of the constructed object, so consumers can disambiguate
// polymorphic configuration objects without another round-trip.
func (c *Compiler) CompileInsert(stmt *ast.ConfigInsert) (*ConfigInsert, error) {
	if stmt.Scope != ast.ScopeInstance {
		return nil, errs.UnsupportedFeaturef(
			"CONFIGURE %s INSERT is not supported", stmt.Scope)
	}

	info, err := Resolve(c.Schema, stmt)
	if err != nil {
		return nil, err
	}

	subjectName := catalog.Name{Module: ConfigModule, Name: stmt.Name.Name}
	subjectType, ok := c.Schema.LookupType(subjectName)
	if !ok || !subjectType.IsObject() {
		return nil, errs.Configurationf(
			"%q is not a valid configuration item", stmt.Name.Name)
	}
	subject := subjectType.(catalog.ObjectType)

	insert := &ast.InsertQuery{
		Subject: ast.ObjectRef{Module: ConfigModule, Name: stmt.Name.Name},
		Shape:   cloneShape(stmt.Shape),
	}
	for i := range insert.Shape {
		if nested, ok := insert.Shape[i].CompExpr.(*ast.InsertQuery); ok {
			injectTypeName(nested)
		}
	}

	if err := c.validateInsertShape(subject, insert.Shape); err != nil {
		return nil, err
	}

	compiled, err := c.Exprs.Compile(insert)
	if err != nil {
		return nil, err
	}

	return &ConfigInsert{
		OpCommon: c.common(info, stmt.Scope, stmt.Pos()),
		Expr:     compiled,
	}, nil
}

func (c *Compiler) common(info SettingInfo, scope ast.Scope, pos ast.Position) OpCommon {
	return OpCommon{
		Name:            info.Name,
		Cardinality:     info.Cardinality,
		Scope:           scope,
		RequiresRestart: info.RequiresRestart,
		BackendSetting:  info.BackendSetting,
		SrcPos:          pos,
	}
}

// configShape builds the full selection shape of a configuration object
// type, recursing into object-typed pointers. seen guards against cycles
// in the configuration schema.
func (c *Compiler) configShape(t catalog.ObjectType, seen map[string]bool) []ast.ShapeElement {
	if seen == nil {
		seen = make(map[string]bool)
	}
	name := t.TypeName().String()
	if seen[name] {
		return nil
	}
	seen[name] = true

	var shape []ast.ShapeElement
	for _, p := range c.Schema.Pointers(t) {
		el := ast.ShapeElement{Name: p.PointerName()}
		if p.Target().IsObject() {
			el.Shape = c.configShape(p.Target().(catalog.ObjectType), seen)
		}
		shape = append(shape, el)
	}
	delete(seen, name)
	return shape
}

// injectTypeName appends the computed _tname element to ins and every
// insert nested beneath it, depth-first.
func injectTypeName(ins *ast.InsertQuery) {
	for i := range ins.Shape {
		if nested, ok := ins.Shape[i].CompExpr.(*ast.InsertQuery); ok {
			injectTypeName(nested)
		}
	}
	ins.Shape = append(ins.Shape, ast.ShapeElement{
		Name: "_tname",
		CompExpr: &ast.Path{
			Steps: []ast.Step{
				&ast.Introspect{Type: ins.Subject},
				&ast.Ptr{Name: "name"},
			},
		},
	})
}

// validateInsertShape checks, bottom-up, that every element of the
// constructed shape other than the identity field is a non-object value
// or a nested insert. Configuration objects are always constructed fresh;
// a reference to a pre-existing object is rejected.
func (c *Compiler) validateInsertShape(t catalog.ObjectType, shape []ast.ShapeElement) error {
	for _, el := range shape {
		if el.Name == "id" || el.Name == "_tname" {
			continue
		}
		ptr, ok := c.Schema.Pointer(t, el.Name)
		if !ok {
			return errs.Queryf(
				"%s has no field %q", t.TypeName(), el.Name)
		}
		if !ptr.Target().IsObject() {
			continue
		}
		nested, ok := el.CompExpr.(*ast.InsertQuery)
		if !ok {
			return errs.Configurationf(
				"%q must be created with a nested INSERT: references to "+
					"existing configuration objects are not allowed", el.Name)
		}
		nestedType, ok := c.Schema.LookupType(
			catalog.Name{Module: ConfigModule, Name: nested.Subject.Name})
		if !ok || !nestedType.IsObject() {
			return errs.Configurationf(
				"%q is not a valid configuration item", nested.Subject.Name)
		}
		if err := c.validateInsertShape(nestedType.(catalog.ObjectType), nested.Shape); err != nil {
			return err
		}
	}
	return nil
}

// cloneShape deep-copies a shape so statement compilation never mutates
// the caller's syntax tree.
func cloneShape(shape []ast.ShapeElement) []ast.ShapeElement {
	if shape == nil {
		return nil
	}
	out := make([]ast.ShapeElement, len(shape))
	for i, el := range shape {
		out[i] = el
		out[i].Shape = cloneShape(el.Shape)
		if nested, ok := el.CompExpr.(*ast.InsertQuery); ok {
			out[i].CompExpr = &ast.InsertQuery{
				Subject: nested.Subject,
				Shape:   cloneShape(nested.Shape),
			}
		}
	}
	return out
}
