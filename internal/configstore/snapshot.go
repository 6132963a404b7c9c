package configstore

import (
	"maps"
	"slices"
)

// Snapshot is an immutable point-in-time copy of all configuration values.
// A reload never mutates a Snapshot; it installs a new one.
type Snapshot struct {
	values map[string]string
}

var emptySnapshot = &Snapshot{values: map[string]string{}}

// NewSnapshot copies values into a new Snapshot.
func NewSnapshot(values map[string]string) *Snapshot {
	if len(values) == 0 {
		return emptySnapshot
	}
	return &Snapshot{values: maps.Clone(values)}
}

// Get returns the value stored for key.
func (s *Snapshot) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Len reports the number of keys in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Keys returns the keys in lexical order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return []string{}
	}
	return slices.Sorted(maps.Keys(s.values))
}

// Values returns a copy of the underlying key/value pairs.
func (s *Snapshot) Values() map[string]string {
	if s == nil {
		return map[string]string{}
	}
	return maps.Clone(s.values)
}

// Equal reports whether both snapshots hold the same pairs.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return maps.Equal(s.valuesOrEmpty(), other.valuesOrEmpty())
}

func (s *Snapshot) valuesOrEmpty() map[string]string {
	if s == nil {
		return emptySnapshot.values
	}
	return s.values
}

// Redacted returns a copy of the pairs with credentials masked.
func (s *Snapshot) Redacted() map[string]string {
	out := s.Values()
	if v, ok := out[KeyAuth]; ok {
		out[KeyAuth] = redact(v)
	}
	return out
}
