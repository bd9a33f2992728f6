package value

import "sort"

// Snapshot maps root-level sync field names to their projected values.
// Nesting lives inside the value tree, never in the keys.
type Snapshot map[string]Value

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	clone := make(Snapshot, len(s))
	for key, entry := range s {
		clone[key] = entry.Clone()
	}
	return clone
}

// Merge overlays other onto the snapshot key-wise, overwriting collisions.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	if s == nil {
		s = make(Snapshot, len(other))
	}
	for key, entry := range other {
		s[key] = entry
	}
	return s
}

// Keys returns the sorted field names present in the snapshot.
func (s Snapshot) Keys() []string {
	if len(s) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two snapshots hold structurally equal values.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for key, entry := range s {
		peer, ok := other[key]
		if !ok || !entry.Equal(peer) {
			return false
		}
	}
	return true
}
