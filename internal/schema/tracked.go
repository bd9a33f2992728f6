package schema

import (
	"fmt"
	"sort"
)

// TrackedMap is a reactive dictionary whose mutating operations mark the
// owning node's field dirty, so in-place container edits are never lost.
type TrackedMap[K comparable, V any] struct {
	node  *Node
	name  string
	items map[K]V
}

// RegisterMap attaches a tracked map field with the given policy.
func RegisterMap[K comparable, V any](n *Node, name string, policy Policy) *TrackedMap[K, V] {
	tracked := &TrackedMap[K, V]{node: n, name: name, items: make(map[K]V)}
	if err := n.register(name, policy, func() any { return tracked }); err != nil {
		panic(err)
	}
	return tracked
}

// Put stores the entry and marks the field dirty.
func (m *TrackedMap[K, V]) Put(key K, item V) {
	m.items[key] = item
	m.node.MarkDirty(m.name)
}

// Delete removes the entry and marks the field dirty when it existed.
func (m *TrackedMap[K, V]) Delete(key K) {
	if _, ok := m.items[key]; !ok {
		return
	}
	delete(m.items, key)
	m.node.MarkDirty(m.name)
}

// Replace swaps the whole mapping and marks the field dirty.
func (m *TrackedMap[K, V]) Replace(items map[K]V) {
	if items == nil {
		items = make(map[K]V)
	}
	m.items = items
	m.node.MarkDirty(m.name)
}

// Get returns the entry for key.
func (m *TrackedMap[K, V]) Get(key K) (V, bool) {
	item, ok := m.items[key]
	return item, ok
}

// Len reports the number of entries.
func (m *TrackedMap[K, V]) Len() int { return len(m.items) }

// Raw returns a shallow copy of the mapping for read-only iteration.
func (m *TrackedMap[K, V]) Raw() map[K]V {
	copied := make(map[K]V, len(m.items))
	for key, item := range m.items {
		copied[key] = item
	}
	return copied
}

// UnwrapValue exposes the backing map to snapshot conversion.
func (m *TrackedMap[K, V]) UnwrapValue() any { return m.items }

// TrackedSet is a reactive set emitted as a deterministically ordered array.
type TrackedSet[K comparable] struct {
	node  *Node
	name  string
	items map[K]struct{}
}

// RegisterSet attaches a tracked set field with the given policy.
func RegisterSet[K comparable](n *Node, name string, policy Policy) *TrackedSet[K] {
	tracked := &TrackedSet[K]{node: n, name: name, items: make(map[K]struct{})}
	if err := n.register(name, policy, func() any { return tracked }); err != nil {
		panic(err)
	}
	return tracked
}

// Add inserts the member and marks the field dirty when it was absent.
func (s *TrackedSet[K]) Add(member K) {
	if _, ok := s.items[member]; ok {
		return
	}
	s.items[member] = struct{}{}
	s.node.MarkDirty(s.name)
}

// Remove deletes the member and marks the field dirty when it existed.
func (s *TrackedSet[K]) Remove(member K) {
	if _, ok := s.items[member]; !ok {
		return
	}
	delete(s.items, member)
	s.node.MarkDirty(s.name)
}

// Contains reports membership.
func (s *TrackedSet[K]) Contains(member K) bool {
	_, ok := s.items[member]
	return ok
}

// Len reports the number of members.
func (s *TrackedSet[K]) Len() int { return len(s.items) }

// UnwrapValue exposes the members sorted by their string form so snapshots
// and diffs stay stable across iterations.
func (s *TrackedSet[K]) UnwrapValue() any {
	members := make([]K, 0, len(s.items))
	for member := range s.items {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return fmt.Sprint(members[i]) < fmt.Sprint(members[j])
	})
	return members
}
