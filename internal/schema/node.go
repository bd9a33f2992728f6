// Package schema implements the declarative state-tree model: nodes with
// per-field sync policies, setter-driven dirty tracking, and snapshot
// extraction for broadcast or per-player audiences.
//
// A Node is owned by exactly one Land and is mutated only on that Land's
// serial executor, so the node itself carries no locking.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"landkeeper/engine/internal/value"
)

// Audience selects which policy families a snapshot extraction admits.
type Audience uint8

const (
	// AudienceBroadcast admits broadcast and masked fields only.
	AudienceBroadcast Audience = iota
	// AudiencePerPlayer admits perPlayer, perPlayerSlice, and custom fields only.
	AudiencePerPlayer
	// AudienceFull admits everything except serverOnly; used when recursing
	// into nested nodes reached through an admitted field.
	AudienceFull
)

// ErrDuplicateField signals that a field name was registered twice on a node.
var ErrDuplicateField = errors.New("field already registered on state node")

// FieldInfo describes one registered sync field.
type FieldInfo struct {
	Name   string
	Policy PolicyKind
}

type fieldEntry struct {
	name   string
	policy Policy
	get    func() any
}

// Node is a record of sync-annotated fields with field-granularity dirty
// tracking. Unregistered (internal) state lives outside the node entirely.
type Node struct {
	fields []*fieldEntry
	byName map[string]*fieldEntry
	dirty  map[string]struct{}
}

// NewNode constructs an empty state node ready for field registration.
func NewNode() *Node {
	return &Node{
		byName: make(map[string]*fieldEntry),
		dirty:  make(map[string]struct{}),
	}
}

func (n *Node) register(name string, policy Policy, get func() any) error {
	if _, exists := n.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateField, name)
	}
	entry := &fieldEntry{name: name, policy: policy, get: get}
	n.fields = append(n.fields, entry)
	n.byName[name] = entry
	return nil
}

// Fields lists the registered fields in registration order.
func (n *Node) Fields() []FieldInfo {
	if n == nil {
		return nil
	}
	infos := make([]FieldInfo, 0, len(n.fields))
	for _, entry := range n.fields {
		infos = append(infos, FieldInfo{Name: entry.name, Policy: entry.policy.Kind()})
	}
	return infos
}

// FieldPolicy reports the policy kind of a registered field.
func (n *Node) FieldPolicy(name string) (PolicyKind, bool) {
	if n == nil {
		return 0, false
	}
	entry, ok := n.byName[name]
	if !ok {
		return 0, false
	}
	return entry.policy.Kind(), true
}

// MarkDirty records a top-level field mutation; unknown names are ignored.
func (n *Node) MarkDirty(name string) {
	if n == nil {
		return
	}
	if _, ok := n.byName[name]; ok {
		n.dirty[name] = struct{}{}
	}
}

// IsDirty reports whether any field mutated since the last ClearDirty.
func (n *Node) IsDirty() bool {
	return n != nil && len(n.dirty) > 0
}

// DirtyFields returns the sorted set of mutated top-level field names.
func (n *Node) DirtyFields() []string {
	if n == nil || len(n.dirty) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.dirty))
	for name := range n.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearDirty resets the dirty set after a completed sync cycle.
func (n *Node) ClearDirty() {
	if n == nil {
		return
	}
	n.dirty = make(map[string]struct{})
}

// SnapshotFor projects the node's fields for the audience and viewer.
// An empty viewer denotes the broadcast perspective. When only is non-nil,
// emission is restricted to the named fields. Extraction never mutates the
// dirty set.
func (n *Node) SnapshotFor(viewer string, audience Audience, only map[string]struct{}) (value.Snapshot, error) {
	if n == nil {
		return value.Snapshot{}, nil
	}
	snapshot := make(value.Snapshot, len(n.fields))
	for _, entry := range n.fields {
		if only != nil {
			if _, wanted := only[entry.name]; !wanted {
				continue
			}
		}
		kind := entry.policy.Kind()
		if !admits(audience, kind) {
			continue
		}

		//1.- Apply the policy transform before canonical conversion.
		raw := entry.get()
		switch kind {
		case PolicyMasked:
			if entry.policy.mask != nil {
				raw = entry.policy.mask(raw)
			}
		case PolicyPerPlayer, PolicyPerPlayerSlice:
			raw = entry.policy.filter(raw, viewer)
		case PolicyCustom:
			projected, ok := entry.policy.custom(raw, viewer)
			if !ok {
				continue
			}
			raw = projected
		}

		//2.- Convert recursively so nested nodes re-apply their own policies.
		converted, err := value.FromAnyFor(raw, viewer)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", entry.name, err)
		}
		snapshot[entry.name] = converted
	}
	return snapshot, nil
}

// BroadcastSnapshot projects the broadcast-visible fields only.
func (n *Node) BroadcastSnapshot(only map[string]struct{}) (value.Snapshot, error) {
	return n.SnapshotFor("", AudienceBroadcast, only)
}

// ProjectValue lets a node embedded inside another node's field re-apply its
// policies during conversion. It implements value.Projector.
func (n *Node) ProjectValue(viewer string) (value.Value, error) {
	audience := AudienceFull
	if viewer == "" {
		audience = AudienceBroadcast
	}
	snapshot, err := n.SnapshotFor(viewer, audience, nil)
	if err != nil {
		return value.Value{}, err
	}
	fields := make(map[string]value.Value, len(snapshot))
	for name, entry := range snapshot {
		fields[name] = entry
	}
	return value.Object(fields), nil
}

// FullSnapshot projects every field raw, with no policy transforms applied
// and serverOnly fields included. Persistence and journaling use this form.
func (n *Node) FullSnapshot() (value.Snapshot, error) {
	if n == nil {
		return value.Snapshot{}, nil
	}
	snapshot := make(value.Snapshot, len(n.fields))
	for _, entry := range n.fields {
		converted, err := value.FromAnyFull(entry.get())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", entry.name, err)
		}
		snapshot[entry.name] = converted
	}
	return snapshot, nil
}

// ProjectFullValue implements value.FullProjector for nested nodes reached
// during a persistence conversion.
func (n *Node) ProjectFullValue() (value.Value, error) {
	snapshot, err := n.FullSnapshot()
	if err != nil {
		return value.Value{}, err
	}
	fields := make(map[string]value.Value, len(snapshot))
	for name, entry := range snapshot {
		fields[name] = entry
	}
	return value.Object(fields), nil
}

func admits(audience Audience, kind PolicyKind) bool {
	switch audience {
	case AudienceBroadcast:
		return kind.BroadcastBound()
	case AudiencePerPlayer:
		return kind.PlayerBound()
	case AudienceFull:
		return kind != PolicyServerOnly
	default:
		return false
	}
}
