package catalog

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MemorySchema is an in-memory Schema used by tests and the development
// backend. It is immutable once built; builders are not safe for
// concurrent use.
type MemorySchema struct {
	types map[string]Type
	// referrers indexes link pointers by target type name.
	referrers map[string][]Pointer
}

type memScalar struct {
	name Name
}

func (s *memScalar) TypeName() Name { return s.name }
func (s *memScalar) IsObject() bool { return false }

type memObject struct {
	name  Name
	bases []*memObject
	ptrs  []*memPointer
}

func (o *memObject) TypeName() Name { return o.name }
func (o *memObject) IsObject() bool { return true }
func (o *memObject) objectType()    {}

type memPointer struct {
	name        string
	source      *memObject
	target      Type
	cardinality Cardinality
	annotations map[string]string
}

func (p *memPointer) PointerName() string             { return p.name }
func (p *memPointer) Source() ObjectType              { return p.source }
func (p *memPointer) Target() Type                    { return p.target }
func (p *memPointer) PointerCardinality() Cardinality { return p.cardinality }

func (p *memPointer) Annotation(name Name) (string, bool) {
	v, ok := p.annotations[name.String()]
	return v, ok
}

// NewMemorySchema returns an empty schema.
func NewMemorySchema() *MemorySchema {
	return &MemorySchema{
		types:     make(map[string]Type),
		referrers: make(map[string][]Pointer),
	}
}

// AddScalar registers a scalar type.
func (s *MemorySchema) AddScalar(name string) Type {
	t := &memScalar{name: ParseName(name)}
	s.types[name] = t
	return t
}

// AddObject registers an object type deriving from the given bases.
func (s *MemorySchema) AddObject(name string, bases ...ObjectType) ObjectType {
	o := &memObject{name: ParseName(name)}
	for _, b := range bases {
		o.bases = append(o.bases, b.(*memObject))
	}
	s.types[name] = o
	return o
}

// AddPointer defines a pointer on src. Annotations are keyed by qualified
// annotation name.
func (s *MemorySchema) AddPointer(
	src ObjectType,
	name string,
	target Type,
	cardinality Cardinality,
	annotations map[string]string,
) Pointer {
	p := &memPointer{
		name:        name,
		source:      src.(*memObject),
		target:      target,
		cardinality: cardinality,
		annotations: annotations,
	}
	p.source.ptrs = append(p.source.ptrs, p)
	if target.IsObject() {
		tn := target.TypeName().String()
		s.referrers[tn] = append(s.referrers[tn], p)
	}
	return p
}

// LookupType implements Schema.
func (s *MemorySchema) LookupType(name Name) (Type, bool) {
	t, ok := s.types[name.String()]
	return t, ok
}

// Pointer implements Schema.
func (s *MemorySchema) Pointer(t ObjectType, name string) (Pointer, bool) {
	for _, p := range s.Pointers(t) {
		if p.PointerName() == name {
			return p, true
		}
	}
	return nil, false
}

// Ancestors implements Schema. Bases are linearized depth-first with the
// first occurrence winning, most-derived first.
func (s *MemorySchema) Ancestors(t ObjectType) []ObjectType {
	var out []ObjectType
	seen := make(map[string]bool)
	var walk func(o *memObject)
	walk = func(o *memObject) {
		for _, b := range o.bases {
			if !seen[b.name.String()] {
				seen[b.name.String()] = true
				out = append(out, b)
			}
		}
		for _, b := range o.bases {
			walk(b)
		}
	}
	walk(t.(*memObject))
	return out
}

// Referrers implements Schema.
func (s *MemorySchema) Referrers(t Type) []Pointer {
	return s.referrers[t.TypeName().String()]
}

// Pointers implements Schema.
func (s *MemorySchema) Pointers(t ObjectType) []Pointer {
	o := t.(*memObject)
	var out []Pointer
	seen := make(map[string]bool)
	ancestors := s.Ancestors(t)
	for i := len(ancestors) - 1; i >= 0; i-- {
		for _, p := range ancestors[i].(*memObject).ptrs {
			if !seen[p.name] {
				seen[p.name] = true
				out = append(out, p)
			}
		}
	}
	for _, p := range o.ptrs {
		if !seen[p.name] {
			seen[p.name] = true
			out = append(out, p)
		}
	}
	return out
}

// IsSubclass implements Schema.
func (s *MemorySchema) IsSubclass(t, ancestor ObjectType) bool {
	if t.TypeName() == ancestor.TypeName() {
		return true
	}
	for _, a := range s.Ancestors(t) {
		if a.TypeName() == ancestor.TypeName() {
			return true
		}
	}
	return false
}

// Snapshot wire form, produced by backend introspection queries.

type snapshotType struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"` // "scalar" or "object"
	Bases    []string          `json:"bases,omitempty"`
	Pointers []snapshotPointer `json:"pointers,omitempty"`
}

type snapshotPointer struct {
	Name        string            `json:"name"`
	Target      string            `json:"target"`
	Cardinality string            `json:"cardinality"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// ParseSnapshot decodes the JSON schema snapshot returned by the backend
// introspection queries into a MemorySchema. Types may reference other
// types in any order.
func ParseSnapshot(data []byte) (*MemorySchema, error) {
	var raw struct {
		Types []snapshotType `json:"types"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding schema snapshot")
	}

	s := NewMemorySchema()

	// Objects must exist before their bases are wired. Scalars have no
	// bases; objects are created as soon as all of theirs exist, passing
	// over the remainder until a full pass makes no progress, so base
	// chains may appear in any order.
	var remaining []snapshotType
	for _, t := range raw.Types {
		switch t.Kind {
		case "scalar":
			s.AddScalar(t.Name)
		case "object":
			remaining = append(remaining, t)
		default:
			return nil, errors.Errorf("snapshot type %s has unknown kind %q", t.Name, t.Kind)
		}
	}
	for len(remaining) > 0 {
		var deferred []snapshotType
		for _, t := range remaining {
			bases := make([]ObjectType, 0, len(t.Bases))
			ready := true
			for _, b := range t.Bases {
				bt, ok := s.types[b]
				if !ok {
					ready = false
					break
				}
				bo, ok := bt.(ObjectType)
				if !ok {
					return nil, errors.Errorf("snapshot type %s has non-object base %s", t.Name, b)
				}
				bases = append(bases, bo)
			}
			if !ready {
				deferred = append(deferred, t)
				continue
			}
			s.AddObject(t.Name, bases...)
		}
		if len(deferred) == len(remaining) {
			t := deferred[0]
			missing := t.Bases[0]
			for _, b := range t.Bases {
				if _, ok := s.types[b]; !ok {
					missing = b
					break
				}
			}
			return nil, errors.Errorf("snapshot type %s references unknown base %s", t.Name, missing)
		}
		remaining = deferred
	}
	for _, t := range raw.Types {
		if t.Kind != "object" {
			continue
		}
		src := s.types[t.Name].(ObjectType)
		for _, p := range t.Pointers {
			target, ok := s.types[p.Target]
			if !ok {
				return nil, errors.Errorf("pointer %s.%s references unknown type %s", t.Name, p.Name, p.Target)
			}
			card, err := parseCardinality(p.Cardinality)
			if err != nil {
				return nil, errors.Wrapf(err, "pointer %s.%s", t.Name, p.Name)
			}
			s.AddPointer(src, p.Name, target, card, p.Annotations)
		}
	}
	return s, nil
}

func parseCardinality(s string) (Cardinality, error) {
	switch s {
	case "", "at_most_one":
		return AtMostOne, nil
	case "one":
		return One, nil
	case "many":
		return Many, nil
	}
	return 0, errors.Errorf("unknown cardinality %q", s)
}
