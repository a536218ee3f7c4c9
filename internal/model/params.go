package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Key is the name of a tracked marketing parameter.
type Key string

const (
	// Click identifiers, in priority order.
	KeyGCLID   Key = "gclid"
	KeyMSCLKID Key = "msclkid"
	KeyFBCLID  Key = "fbclid"

	// KeySessionID is carried alongside the click identifiers and is
	// transliterated before it is injected into outbound URLs.
	KeySessionID Key = "session_id"
)

// ClickIDKeys returns the click identifier keys in priority order.
func ClickIDKeys() []Key {
	return []Key{KeyGCLID, KeyMSCLKID, KeyFBCLID}
}

// AllKeys returns every tracked key in declared order.
func AllKeys() []Key {
	return []Key{KeyGCLID, KeyMSCLKID, KeyFBCLID, KeySessionID}
}

// ParseKey reports whether name is a tracked key. Query parameter names are
// case-sensitive, so "GCLID" is not tracked.
func ParseKey(name string) (Key, bool) {
	for _, k := range AllKeys() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// IsClickID reports whether k is one of the click identifier keys.
func (k Key) IsClickID() bool {
	switch k {
	case KeyGCLID, KeyMSCLKID, KeyFBCLID:
		return true
	default:
		return false
	}
}

// Params is the set of tracked parameters captured for one navigation cycle.
// Only tracked keys with non-empty values are held. The zero value is an
// empty set; methods never mutate the receiver.
type Params struct {
	values map[Key]string
}

// NewParams builds a Params from a raw mapping, dropping untracked keys and
// empty values. Whitespace is a value, as it is in a query string.
func NewParams(raw map[string]string) Params {
	var p Params
	for name, v := range raw {
		k, ok := ParseKey(name)
		if !ok || v == "" {
			continue
		}
		p = p.With(k, v)
	}
	return p
}

// Get returns the value stored for k.
func (p Params) Get(k Key) (string, bool) {
	v, ok := p.values[k]
	return v, ok
}

// With returns a copy of p with k set to v. An empty v removes k.
func (p Params) With(k Key, v string) Params {
	next := make(map[Key]string, len(p.values)+1)
	for key, val := range p.values {
		next[key] = val
	}
	if v == "" {
		delete(next, k)
	} else {
		next[k] = v
	}
	return Params{values: next}
}

// Len returns the number of keys held.
func (p Params) Len() int { return len(p.values) }

// IsEmpty reports whether no tracked parameter is held.
func (p Params) IsEmpty() bool { return len(p.values) == 0 }

// Keys returns the held keys in declared order.
func (p Params) Keys() []Key {
	keys := make([]Key, 0, len(p.values))
	for _, k := range AllKeys() {
		if _, ok := p.values[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Primary returns the first click identifier in priority order that has a
// value.
func (p Params) Primary() (Key, bool) {
	for _, k := range ClickIDKeys() {
		if _, ok := p.values[k]; ok {
			return k, true
		}
	}
	return "", false
}

// Equal reports whether p and o hold the same keys and values.
func (p Params) Equal(o Params) bool {
	if len(p.values) != len(o.values) {
		return false
	}
	for k, v := range p.values {
		if ov, ok := o.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Map returns a copy of the parameters keyed by name.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p.values))
	for k, v := range p.values {
		m[string(k)] = v
	}
	return m
}

// MarshalJSON encodes the set as a flat JSON object.
func (p Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// UnmarshalJSON decodes a flat JSON object of string values. Untracked keys
// and empty values are dropped.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal params")
	}
	if raw == nil {
		return eris.New("model: params must be a JSON object")
	}
	*p = NewParams(raw)
	return nil
}
