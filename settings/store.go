package settings

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

// Store is an immutable snapshot of configured values. Mutating operations
// return a new Store; existing snapshots are never changed, so a Store may
// be read concurrently without locking.
type Store struct {
	m map[string]interface{}
}

// NewStore returns an empty store.
func NewStore() Store {
	return Store{m: map[string]interface{}{}}
}

// Get returns the explicitly configured value, if any.
func (s Store) Get(name string) (interface{}, bool) {
	v, ok := s.m[name]
	return v, ok
}

// Lookup returns the configured value, falling back to the registered
// default, or nil when neither exists.
func (s Store) Lookup(name string) interface{} {
	if v, ok := s.m[name]; ok {
		return v
	}
	if spec, ok := registry[name]; ok {
		return spec.Default
	}
	return nil
}

func (s Store) clone() map[string]interface{} {
	m := make(map[string]interface{}, len(s.m)+1)
	for k, v := range s.m {
		m[k] = v
	}
	return m
}

// With returns a copy of the store with name set to value.
func (s Store) With(name string, value interface{}) Store {
	m := s.clone()
	m[name] = value
	return Store{m: m}
}

// Without returns a copy of the store with name unset.
func (s Store) Without(name string) Store {
	m := s.clone()
	delete(m, name)
	return Store{m: m}
}

// Apply returns the store resulting from a committed delta. Set replaces,
// Reset unsets, Add appends to and Remove deletes from a set-valued
// setting.
func (s Store) Apply(d Delta) Store {
	switch d.Op {
	case OpSet:
		return s.With(d.Name, d.Value)
	case OpReset:
		return s.Without(d.Name)
	case OpAdd:
		cur, _ := s.m[d.Name].([]interface{})
		next := make([]interface{}, len(cur), len(cur)+1)
		copy(next, cur)
		next = append(next, d.Value)
		return s.With(d.Name, next)
	case OpRemove:
		cur, _ := s.m[d.Name].([]interface{})
		var next []interface{}
		removed := false
		for _, v := range cur {
			if !removed && reflect.DeepEqual(v, d.Value) {
				removed = true
				continue
			}
			next = append(next, v)
		}
		return s.With(d.Name, next)
	}
	return s
}

// ParseStore decodes the JSON system-config payload returned by the
// backend. Structured settings (ports, auth) are decoded into their typed
// values; everything else is stored as decoded JSON.
func ParseStore(data []byte) (Store, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Store{}, errors.Wrap(err, "decoding system config")
	}

	s := NewStore()
	for name, payload := range raw {
		switch name {
		case "ports":
			var ports []Port
			if err := json.Unmarshal(payload, &ports); err != nil {
				return Store{}, errors.Wrap(err, "decoding ports config")
			}
			vals := make([]interface{}, len(ports))
			for i, p := range ports {
				vals[i] = p
			}
			s = s.With(name, vals)
		case "auth":
			var auth []Auth
			if err := json.Unmarshal(payload, &auth); err != nil {
				return Store{}, errors.Wrap(err, "decoding auth config")
			}
			vals := make([]interface{}, len(auth))
			for i, a := range auth {
				vals[i] = a
			}
			s = s.With(name, vals)
		default:
			var v interface{}
			if err := json.Unmarshal(payload, &v); err != nil {
				return Store{}, errors.Wrapf(err, "decoding config value %q", name)
			}
			// JSON numbers arrive as float64; integral settings are
			// normalized so lookups compare cleanly.
			if f, ok := v.(float64); ok && f == float64(int64(f)) {
				v = int64(f)
			}
			s = s.With(name, v)
		}
	}
	return s, nil
}
