package session

import (
	"maps"
	"slices"
)

// Snapshot is a name→value mapping reported by a camera.
type Snapshot map[string]any

// Clone returns a shallow copy. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	maps.Copy(out, s)
	return out
}

// Keys returns the keys in sorted order.
func (s Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Get returns the value for key.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// SameKeys reports whether s and other have exactly the same key set.
func (s Snapshot) SameKeys(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}
