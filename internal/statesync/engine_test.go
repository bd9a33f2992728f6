package statesync

import (
	"encoding/json"
	"testing"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

type gameState struct {
	node  *schema.Node
	score *schema.Field[int64]
	deck  *schema.Field[[]string]
	hands *schema.TrackedMap[string, []string]
	notes *schema.Field[string]
}

func newGameState() *gameState {
	node := schema.NewNode()
	return &gameState{
		node:  node,
		score: schema.Register(node, "score", schema.Broadcast(), int64(0)),
		deck: schema.Register(node, "deck", schema.Masked(func(raw any) any {
			cards, ok := raw.([]string)
			if !ok {
				return raw
			}
			return len(cards)
		}), []string{"ace"}),
		hands: schema.RegisterMap[string, []string](node, "hands", schema.PerPlayerSlice()),
		notes: schema.Register(node, "notes", schema.ServerOnly(), ""),
	}
}

func TestFirstDiffAfterWarmupIsEmptyFirstSync(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateFirstSync {
		t.Fatalf("expected firstSync, got %v", update.Kind)
	}
	if len(update.Patches) != 0 {
		t.Fatalf("expected empty firstSync after warmup, got %v", update.Patches)
	}
}

func TestFirstSyncHappensOncePerPlayer(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	if _, err := engine.GenerateDiff("alice", state.node, nil, false); err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	state.score.Set(5)
	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateDiff {
		t.Fatalf("second call must be a diff, got %v", update.Kind)
	}
	if len(update.Patches) != 1 || update.Patches[0].Path != "/score" || update.Patches[0].Op != value.OpReplace {
		t.Fatalf("unexpected patches: %v", update.Patches)
	}
}

func TestRepeatDiffWithoutNewMutationIsNoChange(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if _, err := engine.GenerateDiff("alice", state.node, nil, false); err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}

	state.score.Set(5)
	if _, err := engine.GenerateDiff("alice", state.node, nil, false); err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}

	//1.- The cache already advanced; the same state version diffs to nothing
	// even though the dirty flag was never cleared.
	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateNoChange {
		t.Fatalf("expected noChange, got %v with %v", update.Kind, update.Patches)
	}
}

func TestJoinSnapshotPrimesCachesAgainstDeliveredView(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	state.hands.Put("alice", []string{"sword"})

	full, err := engine.JoinSnapshot("alice", state.node)
	if err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	engine.MarkFirstSyncReceived("alice")
	if _, present := full["hands"]; !present {
		t.Fatalf("join snapshot missing per-player field: %v", full.Keys())
	}
	if _, present := full["notes"]; present {
		t.Fatal("serverOnly field leaked into join snapshot")
	}

	//1.- A mutation after the join reply diffs against what was delivered,
	// so the patch is a replace of the known key, not a spurious add.
	state.hands.Put("alice", []string{"sword", "axe"})
	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateDiff {
		t.Fatalf("expected diff, got %v", update.Kind)
	}
	if len(update.Patches) != 1 || update.Patches[0].Path != "/hands/alice" || update.Patches[0].Op != value.OpReplace {
		t.Fatalf("unexpected patches: %v", update.Patches)
	}
}

func TestPerPlayerSliceIsolatesViewers(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	state.hands.Put("alice", []string{"sword"})
	for _, player := range []string{"alice", "bob"} {
		if _, err := engine.JoinSnapshot(player, state.node); err != nil {
			t.Fatalf("JoinSnapshot(%s): %v", player, err)
		}
		engine.MarkFirstSyncReceived(player)
	}

	state.hands.Put("alice", []string{"sword", "axe"})

	aliceUpdate, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff(alice): %v", err)
	}
	if aliceUpdate.Kind != value.UpdateDiff {
		t.Fatalf("alice expected diff, got %v", aliceUpdate.Kind)
	}
	if aliceUpdate.Patches[0].Path != "/hands/alice" {
		t.Fatalf("alice unexpected path: %v", aliceUpdate.Patches)
	}

	//1.- Bob's projection of hands did not change at all.
	bobUpdate, err := engine.GenerateDiff("bob", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff(bob): %v", err)
	}
	if bobUpdate.Kind != value.UpdateNoChange {
		t.Fatalf("bob expected noChange, got %v with %v", bobUpdate.Kind, bobUpdate.Patches)
	}
}

func TestDisconnectClearsPlayerState(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if _, err := engine.JoinSnapshot("alice", state.node); err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	engine.MarkFirstSyncReceived("alice")
	if !engine.HasFirstSync("alice") {
		t.Fatal("expected firstSync mark after join")
	}

	engine.ClearCacheForDisconnectedPlayer("alice")
	if engine.HasFirstSync("alice") {
		t.Fatal("disconnect must reset firstSync bookkeeping")
	}

	//1.- A reconnect starts a fresh session with a new firstSync.
	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateFirstSync {
		t.Fatalf("expected firstSync after reconnect, got %v", update.Kind)
	}
}

func TestDirtyTrackingSkipsCleanFields(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if _, err := engine.JoinSnapshot("alice", state.node); err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	engine.MarkFirstSyncReceived("alice")

	state.score.Set(3)
	update, err := engine.GenerateDiff("alice", state.node, nil, true)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateDiff {
		t.Fatalf("expected diff, got %v", update.Kind)
	}
	if len(update.Patches) != 1 || update.Patches[0].Path != "/score" {
		t.Fatalf("unexpected patches: %v", update.Patches)
	}
	state.node.ClearDirty()

	//1.- Clean state under dirty tracking produces noChange without work.
	update, err = engine.GenerateDiff("alice", state.node, nil, true)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateNoChange {
		t.Fatalf("expected noChange, got %v", update.Kind)
	}
}

func applyUpdatePatches(t *testing.T, base value.Snapshot, patches []value.Patch) value.Snapshot {
	t.Helper()
	document, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("encode base snapshot: %v", err)
	}
	encoded, err := json.Marshal(patches)
	if err != nil {
		t.Fatalf("encode patches: %v", err)
	}
	patch, err := jsonpatch.DecodePatch(encoded)
	if err != nil {
		t.Fatalf("decode patches: %v", err)
	}
	document, err = patch.Apply(document)
	if err != nil {
		t.Fatalf("apply patches: %v", err)
	}
	var applied value.Snapshot
	if err := json.Unmarshal(document, &applied); err != nil {
		t.Fatalf("decode applied snapshot: %v", err)
	}
	return applied
}

func TestAppliedDiffReproducesCurrentView(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	state.hands.Put("alice", []string{"sword"})

	observed, err := engine.JoinSnapshot("alice", state.node)
	if err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	engine.MarkFirstSyncReceived("alice")

	//1.- Touch every projection kind: plain broadcast, masked, per-player.
	state.score.Set(12)
	state.deck.Set([]string{"ace", "king"})
	state.hands.Put("alice", []string{"sword", "axe"})

	update, err := engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateDiff {
		t.Fatalf("expected diff, got %v", update.Kind)
	}

	//2.- Replaying the patches onto the delivered view must land exactly on
	// the projection a fresh join would hand out now.
	observed = applyUpdatePatches(t, observed, update.Patches)
	expected, err := NewEngine(nil).JoinSnapshot("alice", state.node)
	if err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	if !observed.Equal(expected) {
		t.Fatalf("applied diff diverged from current view:\ngot  %v\nwant %v", observed, expected)
	}

	//3.- The same holds across a second cycle that removes a map entry.
	state.score.Set(20)
	state.hands.Delete("alice")
	update, err = engine.GenerateDiff("alice", state.node, nil, false)
	if err != nil {
		t.Fatalf("GenerateDiff: %v", err)
	}
	if update.Kind != value.UpdateDiff {
		t.Fatalf("expected diff, got %v", update.Kind)
	}
	observed = applyUpdatePatches(t, observed, update.Patches)
	expected, err = NewEngine(nil).JoinSnapshot("alice", state.node)
	if err != nil {
		t.Fatalf("JoinSnapshot: %v", err)
	}
	if !observed.Equal(expected) {
		t.Fatalf("applied diff diverged after removal:\ngot  %v\nwant %v", observed, expected)
	}
}

func TestBroadcastFanOutPath(t *testing.T) {
	state := newGameState()
	engine := NewEngine(nil)
	if err := engine.WarmupBroadcast(state.node); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	players := []string{"alice", "bob"}
	for _, player := range players {
		if _, err := engine.JoinSnapshot(player, state.node); err != nil {
			t.Fatalf("JoinSnapshot(%s): %v", player, err)
		}
		engine.MarkFirstSyncReceived(player)
	}

	state.score.Set(7)
	dirty := SplitDirty(state.node, true)
	bSnap, err := engine.ExtractBroadcast(state.node, DirtyTracking(dirty.Broadcast))
	if err != nil {
		t.Fatalf("ExtractBroadcast: %v", err)
	}
	broadcastPatches := engine.BroadcastDiffFromSnapshot(bSnap, nil, dirty)
	if len(broadcastPatches) != 1 || broadcastPatches[0].Path != "/score" {
		t.Fatalf("unexpected broadcast patches: %v", broadcastPatches)
	}

	//1.- Each player's update reuses the single broadcast diff.
	for _, player := range players {
		pSnap, err := engine.ExtractPerPlayer(player, state.node, AllFields())
		if err != nil {
			t.Fatalf("ExtractPerPlayer(%s): %v", player, err)
		}
		update, err := engine.GenerateUpdateFromBroadcastDiff(player, broadcastPatches, pSnap, dirty, nil)
		if err != nil {
			t.Fatalf("GenerateUpdateFromBroadcastDiff(%s): %v", player, err)
		}
		if update.Kind != value.UpdateDiff || len(update.Patches) != 1 {
			t.Fatalf("%s unexpected update: %+v", player, update)
		}
	}
}
