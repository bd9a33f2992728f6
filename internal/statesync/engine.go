// Package statesync computes per-player differential updates against cached
// snapshots. One Engine serves one Land; snapshot extraction happens inside
// the Land's serial boundary while diff computation may run off-boundary
// during fan-out, so the caches carry their own lock.
package statesync

import (
	"sync"

	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

// State is the slice of the state-node surface the engine depends on.
// *schema.Node satisfies it.
type State interface {
	SnapshotFor(viewer string, audience schema.Audience, only map[string]struct{}) (value.Snapshot, error)
	IsDirty() bool
	DirtyFields() []string
	FieldPolicy(name string) (schema.PolicyKind, bool)
}

// ModeKind selects how much of the state a snapshot extraction covers.
type ModeKind uint8

const (
	// ModeAll extracts every admitted field.
	ModeAll ModeKind = iota
	// ModeInclude restricts extraction to an explicit field set.
	ModeInclude
	// ModeDirtyTracking restricts extraction to the dirty field set.
	ModeDirtyTracking
)

// Mode pairs a mode kind with the field restriction it implies.
type Mode struct {
	Kind   ModeKind
	Fields map[string]struct{}
}

// AllFields extracts the complete snapshot.
func AllFields() Mode { return Mode{Kind: ModeAll} }

// IncludeFields restricts extraction to the named fields.
func IncludeFields(fields map[string]struct{}) Mode {
	return Mode{Kind: ModeInclude, Fields: fields}
}

// DirtyTracking restricts extraction to the supplied dirty field set.
func DirtyTracking(fields map[string]struct{}) Mode {
	return Mode{Kind: ModeDirtyTracking, Fields: fields}
}

func (m Mode) restriction() map[string]struct{} {
	if m.Kind == ModeAll {
		return nil
	}
	if m.Fields == nil {
		return map[string]struct{}{}
	}
	return m.Fields
}

// DirtySet carries the split dirty fields captured at snapshot time so that
// off-boundary diffing observes the same state version as the extraction.
type DirtySet struct {
	Tracking  bool
	Broadcast map[string]struct{}
	PerPlayer map[string]struct{}
}

// SplitDirty partitions the state's dirty fields by policy family.
// serverOnly fields never reach either half.
func SplitDirty(state State, useDirtyTracking bool) DirtySet {
	if !useDirtyTracking || !state.IsDirty() {
		return DirtySet{}
	}
	split := DirtySet{
		Tracking:  true,
		Broadcast: make(map[string]struct{}),
		PerPlayer: make(map[string]struct{}),
	}
	for _, name := range state.DirtyFields() {
		kind, ok := state.FieldPolicy(name)
		if !ok {
			continue
		}
		switch {
		case kind.BroadcastBound():
			split.Broadcast[name] = struct{}{}
		case kind.PlayerBound():
			split.PerPlayer[name] = struct{}{}
		}
	}
	return split
}

// Engine caches the last emitted snapshots per Land and turns state changes
// into per-player updates with firstSync bookkeeping.
type Engine struct {
	mu             sync.Mutex
	atomic         *schema.AtomicShapes
	broadcastCache value.Snapshot
	perPlayerCache map[string]value.Snapshot
	firstSync      map[string]struct{}
}

// NewEngine constructs an engine with the provided atomic shape registry.
// A nil registry falls back to the default vector shapes.
func NewEngine(atomic *schema.AtomicShapes) *Engine {
	if atomic == nil {
		atomic = schema.DefaultAtomicShapes()
	}
	return &Engine{
		atomic:         atomic,
		perPlayerCache: make(map[string]value.Snapshot),
		firstSync:      make(map[string]struct{}),
	}
}

// WarmupBroadcast populates the broadcast cache from fully initialized state
// so the first joiner is not flooded with setup patches. No-op once populated.
func (e *Engine) WarmupBroadcast(state State) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broadcastCache != nil {
		return nil
	}
	snapshot, err := state.SnapshotFor("", schema.AudienceBroadcast, nil)
	if err != nil {
		return err
	}
	e.broadcastCache = snapshot
	return nil
}

// ExtractBroadcast produces the broadcast snapshot for the mode without
// touching the caches.
func (e *Engine) ExtractBroadcast(state State, mode Mode) (value.Snapshot, error) {
	return state.SnapshotFor("", schema.AudienceBroadcast, mode.restriction())
}

// ExtractPerPlayer produces the player-scoped snapshot for the mode without
// touching the caches.
func (e *Engine) ExtractPerPlayer(player string, state State, mode Mode) (value.Snapshot, error) {
	return state.SnapshotFor(player, schema.AudiencePerPlayer, mode.restriction())
}

// JoinSnapshot extracts the full view for a joining player and primes both
// caches so the subsequent diff cycle starts from the delivered snapshot.
// Callers pair it with MarkFirstSyncReceived once the join reply is sent.
func (e *Engine) JoinSnapshot(player string, state State) (value.Snapshot, error) {
	if e == nil {
		return nil, nil
	}
	broadcast, err := state.SnapshotFor("", schema.AudienceBroadcast, nil)
	if err != nil {
		return nil, err
	}
	perPlayer, err := state.SnapshotFor(player, schema.AudiencePerPlayer, nil)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	//1.- Prime the caches only after both extractions succeeded.
	if e.broadcastCache == nil {
		e.broadcastCache = broadcast.Clone()
	}
	e.perPlayerCache[player] = perPlayer.Clone()
	e.mu.Unlock()

	full := broadcast.Clone()
	return full.Merge(perPlayer), nil
}

// MarkFirstSyncReceived records that the player obtained an initial snapshot
// out-of-band, so the next diff call returns diff or noChange, not firstSync.
func (e *Engine) MarkFirstSyncReceived(player string) {
	if e == nil || player == "" {
		return
	}
	e.mu.Lock()
	e.firstSync[player] = struct{}{}
	e.mu.Unlock()
}

// ClearCacheForDisconnectedPlayer drops the player's snapshot cache and
// firstSync mark so a reconnect starts a fresh session.
func (e *Engine) ClearCacheForDisconnectedPlayer(player string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.perPlayerCache, player)
	delete(e.firstSync, player)
	e.mu.Unlock()
}

// HasFirstSync reports whether firstSync was already delivered to the player.
func (e *Engine) HasFirstSync(player string) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.firstSync[player]
	return ok
}

// GenerateDiff extracts the player's current view, diffs it against the
// caches, and returns the update for this sync cycle. Failure semantics:
// the caches are only written after extraction succeeds, so a failed cycle
// can simply be dropped by the caller.
func (e *Engine) GenerateDiff(player string, state State, onlyPaths map[string]struct{}, useDirtyTracking bool) (value.Update, error) {
	if e == nil {
		return value.NoChange(), nil
	}
	dirty := SplitDirty(state, useDirtyTracking)

	broadcastPatches, err := e.broadcastDiff(state, onlyPaths, dirty)
	if err != nil {
		return value.NoChange(), err
	}
	return e.perPlayerUpdate(player, state, nil, broadcastPatches, onlyPaths, dirty)
}

// GenerateDiffFromSnapshots mirrors GenerateDiff for a caller that already
// extracted full snapshots under the Land boundary and diffs off-boundary.
// Given equivalent inputs the result is identical to GenerateDiff.
func (e *Engine) GenerateDiffFromSnapshots(player string, bSnap, pSnap value.Snapshot, dirty DirtySet, onlyPaths map[string]struct{}) (value.Update, error) {
	if e == nil {
		return value.NoChange(), nil
	}
	broadcastPatches := e.BroadcastDiffFromSnapshot(bSnap, onlyPaths, dirty)
	return e.perPlayerUpdate(player, nil, pSnap, broadcastPatches, onlyPaths, dirty)
}

// GenerateUpdateFromBroadcastDiff fans a precomputed broadcast patch set out
// to one player, paying only the per-player diff cost. Used by the dispatcher
// when broadcasting to many players in one cycle.
func (e *Engine) GenerateUpdateFromBroadcastDiff(player string, broadcastPatches []value.Patch, pSnap value.Snapshot, dirty DirtySet, onlyPaths map[string]struct{}) (value.Update, error) {
	if e == nil {
		return value.NoChange(), nil
	}
	return e.perPlayerUpdate(player, nil, pSnap, broadcastPatches, onlyPaths, dirty)
}

// BroadcastDiffFromSnapshot diffs a pre-extracted full broadcast snapshot
// against the cache and merges it in. Call once per sync cycle.
func (e *Engine) BroadcastDiffFromSnapshot(bSnap value.Snapshot, onlyPaths map[string]struct{}, dirty DirtySet) []value.Patch {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	//1.- An empty cache is primed wholesale and produces no patches.
	if e.broadcastCache == nil {
		e.broadcastCache = bSnap.Clone()
		return nil
	}
	var dirtyFilter map[string]struct{}
	if dirty.Tracking {
		dirtyFilter = dirty.Broadcast
	}
	patches := DiffSnapshots(e.broadcastCache, bSnap, onlyPaths, dirtyFilter, e.atomic)
	e.mergeBroadcastLocked(bSnap, dirty)
	return patches
}

// broadcastDiff extracts the broadcast side per the dirty mode and diffs it
// against the cache.
func (e *Engine) broadcastDiff(state State, onlyPaths map[string]struct{}, dirty DirtySet) ([]value.Patch, error) {
	e.mu.Lock()
	cacheEmpty := e.broadcastCache == nil
	e.mu.Unlock()

	if cacheEmpty {
		full, err := e.ExtractBroadcast(state, AllFields())
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if e.broadcastCache == nil {
			e.broadcastCache = full
		}
		e.mu.Unlock()
		return nil, nil
	}

	mode := AllFields()
	var dirtyFilter map[string]struct{}
	if dirty.Tracking {
		mode = DirtyTracking(dirty.Broadcast)
		dirtyFilter = dirty.Broadcast
	}
	current, err := e.ExtractBroadcast(state, mode)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	patches := DiffSnapshots(e.broadcastCache, current, onlyPaths, dirtyFilter, e.atomic)
	e.mergeBroadcastLocked(current, dirty)
	return patches, nil
}

func (e *Engine) mergeBroadcastLocked(current value.Snapshot, dirty DirtySet) {
	if dirty.Tracking {
		//1.- Only the dirty fields were re-extracted, so merge them in place.
		e.broadcastCache = e.broadcastCache.Merge(current)
		return
	}
	e.broadcastCache = current
}

// perPlayerUpdate finishes a diff cycle for one player. Exactly one of state
// or pSnap is provided: state triggers a mode-aware extraction, pSnap is a
// pre-extracted full per-player snapshot.
func (e *Engine) perPlayerUpdate(player string, state State, pSnap value.Snapshot, broadcastPatches []value.Patch, onlyPaths map[string]struct{}, dirty DirtySet) (value.Update, error) {
	e.mu.Lock()
	cached, hasCache := e.perPlayerCache[player]
	_, first := e.firstSync[player]
	isFirst := !first
	e.mu.Unlock()

	var playerPatches []value.Patch
	switch {
	case !hasCache:
		//1.- Populate the per-player cache without emitting patches, mirroring
		// the broadcast cache bootstrap.
		full := pSnap
		if state != nil {
			var err error
			full, err = e.ExtractPerPlayer(player, state, AllFields())
			if err != nil {
				return value.NoChange(), err
			}
		}
		e.mu.Lock()
		e.perPlayerCache[player] = full.Clone()
		e.mu.Unlock()
	case dirty.Tracking && len(dirty.PerPlayer) == 0 && state != nil:
		//2.- Nothing player-bound changed; skip extraction entirely.
	default:
		var dirtyFilter map[string]struct{}
		current := pSnap
		if state != nil {
			mode := AllFields()
			if dirty.Tracking {
				mode = DirtyTracking(dirty.PerPlayer)
			}
			var err error
			current, err = e.ExtractPerPlayer(player, state, mode)
			if err != nil {
				return value.NoChange(), err
			}
		}
		if dirty.Tracking {
			dirtyFilter = dirty.PerPlayer
		}
		e.mu.Lock()
		playerPatches = DiffSnapshots(cached, current, onlyPaths, dirtyFilter, e.atomic)
		if dirty.Tracking {
			e.perPlayerCache[player] = cached.Merge(pickDirty(current, dirty.PerPlayer, state == nil))
		} else {
			e.perPlayerCache[player] = current.Clone()
		}
		e.mu.Unlock()
	}

	merged := MergePatches(broadcastPatches, playerPatches)

	if isFirst {
		e.mu.Lock()
		e.firstSync[player] = struct{}{}
		e.mu.Unlock()
		if merged == nil {
			merged = []value.Patch{}
		}
		return value.FirstSync(merged), nil
	}
	if len(merged) == 0 {
		return value.NoChange(), nil
	}
	return value.Diff(merged), nil
}

// pickDirty narrows a full snapshot down to the dirty fields when the caller
// supplied pre-extracted snapshots, so cache merging matches the mode-aware
// extraction path.
func pickDirty(snapshot value.Snapshot, dirtyFields map[string]struct{}, fromFull bool) value.Snapshot {
	if !fromFull {
		return snapshot
	}
	narrowed := make(value.Snapshot, len(dirtyFields))
	for name := range dirtyFields {
		if entry, ok := snapshot[name]; ok {
			narrowed[name] = entry
		}
	}
	return narrowed
}
