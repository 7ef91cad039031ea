// Package ast defines the syntax tree of CONFIGURE statements and the
// small expression subset the configuration compiler needs to inspect and
// rewrite. General expressions are opaque to this subsystem; they are
// handed whole to the query compiler.
package ast

// Position is the source location of a node, for error reporting.
type Position struct {
	Line   int
	Column int
}

// Node is any syntax node.
type Node interface {
	Pos() Position
}

type position struct {
	Position Position
}

func (p position) Pos() Position { return p.Position }

// Scope is the breadth at which a configuration change applies.
type Scope int

const (
	ScopeSession Scope = iota
	ScopeDatabase
	ScopeInstance
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "SESSION"
	case ScopeDatabase:
		return "CURRENT DATABASE"
	case ScopeInstance:
		return "INSTANCE"
	}
	return "UNKNOWN"
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Literal is a constant literal value.
type Literal struct {
	position
	Value interface{}
}

func (*Literal) exprNode() {}

// FuncCall is a function application. The configuration compiler never
// evaluates these itself.
type FuncCall struct {
	position
	Name string
	Args []Expr
}

func (*FuncCall) exprNode() {}

// BinOp is a binary operation.
type BinOp struct {
	position
	Op    string
	Left  Expr
	Right Expr
}

func (*BinOp) exprNode() {}

// ObjectRef names a schema object, optionally module-qualified.
type ObjectRef struct {
	position
	Module string
	Name   string
}

func (*ObjectRef) exprNode() {}

// Step is a single component of a Path.
type Step interface {
	Node
	stepNode()
}

// Ptr is a pointer-traversal path step.
type Ptr struct {
	position
	Name string
}

func (*Ptr) stepNode() {}

// RefStep is an object-reference path step.
type RefStep struct {
	position
	Ref ObjectRef
}

func (*RefStep) stepNode() {}

// Introspect is a path step producing the runtime type of an expression.
type Introspect struct {
	position
	Type ObjectRef
}

func (*Introspect) stepNode() {}

// Path is a chain of steps.
type Path struct {
	position
	Steps []Step
}

func (*Path) exprNode() {}

// ShapeElement is one element of an insert or selection shape. CompExpr,
// when set, is the computed value assigned to the pointer; Shape, when
// set, is a nested selection.
type ShapeElement struct {
	position
	Name     string
	CompExpr Expr
	Shape    []ShapeElement
}

// SelectQuery is a selection over a type with a shape and a filter.
type SelectQuery struct {
	position
	Subject ObjectRef
	Shape   []ShapeElement
	Where   Expr
}

func (*SelectQuery) exprNode() {}

// InsertQuery constructs a new object of the subject type.
type InsertQuery struct {
	position
	Subject ObjectRef
	Shape   []ShapeElement
}

func (*InsertQuery) exprNode() {}

// ConfigStmt is any CONFIGURE statement.
type ConfigStmt interface {
	Node
	ConfigScope() Scope
	SettingRef() ObjectRef
}

// ConfigSet is CONFIGURE <scope> SET name := expr.
type ConfigSet struct {
	position
	Scope Scope
	Name  ObjectRef
	Expr  Expr
}

func (s *ConfigSet) ConfigScope() Scope    { return s.Scope }
func (s *ConfigSet) SettingRef() ObjectRef { return s.Name }

// ConfigReset is CONFIGURE <scope> RESET name [FILTER expr].
type ConfigReset struct {
	position
	Scope Scope
	Name  ObjectRef
	Where Expr
}

func (s *ConfigReset) ConfigScope() Scope    { return s.Scope }
func (s *ConfigReset) SettingRef() ObjectRef { return s.Name }

// ConfigInsert is CONFIGURE <scope> INSERT Type { shape }.
type ConfigInsert struct {
	position
	Scope Scope
	Name  ObjectRef
	Shape []ShapeElement
}

func (s *ConfigInsert) ConfigScope() Scope    { return s.Scope }
func (s *ConfigInsert) SettingRef() ObjectRef { return s.Name }

// At attaches a source position to a node created programmatically.
// It is mainly a convenience for tests and statement constructors.
func At(line, column int) Position { return Position{Line: line, Column: column} }

// NewConfigSet constructs a ConfigSet at the given position.
func NewConfigSet(pos Position, scope Scope, name ObjectRef, expr Expr) *ConfigSet {
	return &ConfigSet{position: position{pos}, Scope: scope, Name: name, Expr: expr}
}

// NewConfigReset constructs a ConfigReset at the given position.
func NewConfigReset(pos Position, scope Scope, name ObjectRef, where Expr) *ConfigReset {
	return &ConfigReset{position: position{pos}, Scope: scope, Name: name, Where: where}
}

// NewConfigInsert constructs a ConfigInsert at the given position.
func NewConfigInsert(pos Position, scope Scope, name ObjectRef, shape []ShapeElement) *ConfigInsert {
	return &ConfigInsert{position: position{pos}, Scope: scope, Name: name, Shape: shape}
}
