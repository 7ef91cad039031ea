// Package catalog provides a read-only view of schema metadata: types,
// pointers (properties and links) and their annotations. The full schema
// reflection machinery lives behind the storage backend; this package only
// defines the contracts the configuration subsystem consumes, plus an
// in-memory implementation used by tests and the development backend.
package catalog

import "strings"

// Name is a module-qualified schema name, e.g. cfg::Auth.
type Name struct {
	Module string
	Name   string
}

func (n Name) String() string {
	if n.Module == "" {
		return n.Name
	}
	return n.Module + "::" + n.Name
}

// ParseName splits a possibly module-qualified name.
func ParseName(s string) Name {
	if i := strings.Index(s, "::"); i >= 0 {
		return Name{Module: s[:i], Name: s[i+2:]}
	}
	return Name{Name: s}
}

// Cardinality describes how many values a pointer may hold.
type Cardinality int

const (
	AtMostOne Cardinality = iota
	One
	Many
)

func (c Cardinality) String() string {
	switch c {
	case AtMostOne:
		return "AtMostOne"
	case One:
		return "One"
	case Many:
		return "Many"
	}
	return "Unknown"
}

// Type is a named schema type.
type Type interface {
	TypeName() Name
	IsObject() bool
}

// ObjectType is a structured type with pointers and an ancestor chain.
type ObjectType interface {
	Type
	objectType()
}

// Pointer is a property or link defined on an object type.
type Pointer interface {
	// PointerName is the short (unqualified) name of the pointer.
	PointerName() string
	Source() ObjectType
	Target() Type
	PointerCardinality() Cardinality
	// Annotation returns the raw value of the named annotation.
	Annotation(name Name) (string, bool)
}

// Schema is the read-only catalog snapshot the configuration compiler
// resolves against. Implementations must be safe for concurrent readers.
type Schema interface {
	// LookupType resolves a qualified type name.
	LookupType(name Name) (Type, bool)
	// Pointer returns the pointer with the given short name defined on t
	// or inherited from its ancestors.
	Pointer(t ObjectType, name string) (Pointer, bool)
	// Ancestors returns t's ancestor chain, most-derived first, not
	// including t itself.
	Ancestors(t ObjectType) []ObjectType
	// Referrers returns every link in the schema whose target is t.
	Referrers(t Type) []Pointer
	// Pointers returns the pointers of t in definition order, inherited
	// pointers first.
	Pointers(t ObjectType) []Pointer
	// IsSubclass reports whether t is ancestor or derives from it.
	IsSubclass(t, ancestor ObjectType) bool
}
