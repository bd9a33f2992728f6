package schema

import (
	"testing"

	"landkeeper/engine/internal/value"
)

func buildTestNode(t *testing.T) (*Node, *Field[int64], *TrackedMap[string, []string]) {
	t.Helper()
	node := NewNode()
	score := Register(node, "score", Broadcast(), int64(0))
	Register(node, "secret", ServerOnly(), "classified")
	Register(node, "deck", Masked(func(raw any) any {
		cards, ok := raw.([]string)
		if !ok {
			return raw
		}
		//1.- Clients learn the count, not the cards.
		return len(cards)
	}), []string{"ace", "king"})
	hands := RegisterMap[string, []string](node, "hands", PerPlayerSlice())
	Register(node, "whisper", PerPlayer(func(raw any, viewer string) any {
		whispers, ok := raw.(map[string]string)
		if !ok {
			return nil
		}
		return whispers[viewer]
	}), map[string]string{"alice": "psst"})
	Register(node, "spectator", Custom(func(raw any, viewer string) (any, bool) {
		if viewer == "ghost" {
			return nil, false
		}
		return raw, true
	}), "visible")
	return node, score, hands
}

func TestBroadcastSnapshotAdmitsBroadcastAndMaskedOnly(t *testing.T) {
	node, _, _ := buildTestNode(t)
	snapshot, err := node.BroadcastSnapshot(nil)
	if err != nil {
		t.Fatalf("BroadcastSnapshot: %v", err)
	}
	if _, present := snapshot["secret"]; present {
		t.Fatal("serverOnly field leaked into broadcast snapshot")
	}
	if _, present := snapshot["hands"]; present {
		t.Fatal("perPlayerSlice field leaked into broadcast snapshot")
	}
	deck, present := snapshot["deck"]
	if !present {
		t.Fatal("masked field missing from broadcast snapshot")
	}
	//1.- The mask ran: two cards became the integer 2.
	if count, _ := deck.IntValue(); count != 2 {
		t.Fatalf("expected masked deck count 2, got %v", deck)
	}
}

func TestPerPlayerSnapshotScopesToViewer(t *testing.T) {
	node, _, hands := buildTestNode(t)
	hands.Put("alice", []string{"sword"})
	hands.Put("bob", []string{"shield"})

	snapshot, err := node.SnapshotFor("alice", AudiencePerPlayer, nil)
	if err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	}
	handsValue, present := snapshot["hands"]
	if !present {
		t.Fatal("hands missing from per-player snapshot")
	}
	names := handsValue.FieldNames()
	if len(names) != 1 || names[0] != "alice" {
		t.Fatalf("expected only alice's hand, got %v", names)
	}
	whisper, present := snapshot["whisper"]
	if !present {
		t.Fatal("whisper missing")
	}
	if text, _ := whisper.StringValue(); text != "psst" {
		t.Fatalf("unexpected whisper: %v", whisper)
	}
}

func TestCustomPolicySuppression(t *testing.T) {
	node, _, _ := buildTestNode(t)
	snapshot, err := node.SnapshotFor("ghost", AudiencePerPlayer, nil)
	if err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	}
	if _, present := snapshot["spectator"]; present {
		t.Fatal("custom policy should suppress the field for ghost")
	}
	snapshot, err = node.SnapshotFor("alice", AudiencePerPlayer, nil)
	if err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	}
	if _, present := snapshot["spectator"]; !present {
		t.Fatal("custom policy should emit the field for alice")
	}
}

func TestDirtyTrackingThroughSetters(t *testing.T) {
	node, score, hands := buildTestNode(t)
	if node.IsDirty() {
		t.Fatal("fresh node must be clean")
	}
	score.Set(10)
	hands.Put("alice", []string{"sword"})
	dirty := node.DirtyFields()
	if len(dirty) != 2 || dirty[0] != "hands" || dirty[1] != "score" {
		t.Fatalf("unexpected dirty set: %v", dirty)
	}

	//1.- Extraction never clears the dirty set.
	if _, err := node.BroadcastSnapshot(nil); err != nil {
		t.Fatalf("BroadcastSnapshot: %v", err)
	}
	if !node.IsDirty() {
		t.Fatal("extraction must not clear dirty fields")
	}
	node.ClearDirty()
	if node.IsDirty() {
		t.Fatal("ClearDirty left fields dirty")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	node := NewNode()
	Register(node, "x", Broadcast(), 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate field name")
		}
	}()
	Register(node, "x", Broadcast(), 0)
}

func TestFullSnapshotIncludesEverythingUnmasked(t *testing.T) {
	node, _, hands := buildTestNode(t)
	hands.Put("alice", []string{"sword"})
	snapshot, err := node.FullSnapshot()
	if err != nil {
		t.Fatalf("FullSnapshot: %v", err)
	}
	secret, present := snapshot["secret"]
	if !present {
		t.Fatal("serverOnly field missing from full snapshot")
	}
	if text, _ := secret.StringValue(); text != "classified" {
		t.Fatalf("unexpected secret: %v", secret)
	}
	//1.- No mask applied: the deck keeps its cards.
	deck := snapshot["deck"]
	if deck.Kind() != value.KindArray || len(deck.Items()) != 2 {
		t.Fatalf("expected raw deck array, got %v", deck)
	}
	handsValue := snapshot["hands"]
	if _, ok := handsValue.Field("alice"); !ok {
		t.Fatalf("full snapshot lost hands: %v", handsValue)
	}
}

func TestNestedNodeReappliesPolicies(t *testing.T) {
	inner := NewNode()
	Register(inner, "visible", Broadcast(), "yes")
	Register(inner, "hidden", ServerOnly(), "no")

	outer := NewNode()
	Register(outer, "child", Broadcast(), inner)

	snapshot, err := outer.BroadcastSnapshot(nil)
	if err != nil {
		t.Fatalf("BroadcastSnapshot: %v", err)
	}
	child := snapshot["child"]
	if _, ok := child.Field("visible"); !ok {
		t.Fatalf("nested broadcast field missing: %v", child)
	}
	if _, ok := child.Field("hidden"); ok {
		t.Fatal("nested serverOnly field leaked through parent conversion")
	}
}

func TestAtomicShapes(t *testing.T) {
	shapes := DefaultAtomicShapes()
	vec := value.Object(map[string]value.Value{"x": value.Int(1), "y": value.Int(2)})
	if !shapes.Matches(vec) {
		t.Fatal("expected {x,y} to match the default shapes")
	}
	other := value.Object(map[string]value.Value{"x": value.Int(1), "w": value.Int(2)})
	if shapes.Matches(other) {
		t.Fatal("unexpected match for {x,w}")
	}
	shapes.Register("pitch", "yaw", "roll")
	angles := value.Object(map[string]value.Value{
		"yaw": value.Double(0), "pitch": value.Double(1), "roll": value.Double(2),
	})
	if !shapes.Matches(angles) {
		t.Fatal("expected registered shape to match regardless of key order")
	}
}
