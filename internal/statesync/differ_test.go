package statesync

import (
	"testing"

	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

func obj(fields map[string]value.Value) value.Value { return value.Object(fields) }

func TestDiffSnapshotsAddRemoveReplace(t *testing.T) {
	old := value.Snapshot{
		"kept":    value.Int(1),
		"changed": value.String("before"),
		"dropped": value.Bool(true),
	}
	current := value.Snapshot{
		"kept":    value.Int(1),
		"changed": value.String("after"),
		"fresh":   value.Int(9),
	}
	patches := DiffSnapshots(old, current, nil, nil, schema.DefaultAtomicShapes())
	if len(patches) != 3 {
		t.Fatalf("expected 3 patches, got %v", patches)
	}
	//1.- Keys are walked sorted, so the order is deterministic.
	if patches[0].Op != value.OpReplace || patches[0].Path != "/changed" {
		t.Fatalf("unexpected first patch: %+v", patches[0])
	}
	if patches[1].Op != value.OpRemove || patches[1].Path != "/dropped" {
		t.Fatalf("unexpected second patch: %+v", patches[1])
	}
	if patches[2].Op != value.OpAdd || patches[2].Path != "/fresh" {
		t.Fatalf("unexpected third patch: %+v", patches[2])
	}
}

func TestDiffRecursesIntoObjects(t *testing.T) {
	old := value.Snapshot{"player": obj(map[string]value.Value{
		"hp":   value.Int(100),
		"name": value.String("alice"),
	})}
	current := value.Snapshot{"player": obj(map[string]value.Value{
		"hp":   value.Int(90),
		"name": value.String("alice"),
	})}
	patches := DiffSnapshots(old, current, nil, nil, schema.DefaultAtomicShapes())
	if len(patches) != 1 {
		t.Fatalf("expected a single nested patch, got %v", patches)
	}
	if patches[0].Path != "/player/hp" || patches[0].Op != value.OpReplace {
		t.Fatalf("unexpected patch: %+v", patches[0])
	}
}

func TestDiffReplacesAtomicShapesWholesale(t *testing.T) {
	old := value.Snapshot{"pos": obj(map[string]value.Value{
		"x": value.Int(0), "y": value.Int(0),
	})}
	current := value.Snapshot{"pos": obj(map[string]value.Value{
		"x": value.Int(5), "y": value.Int(0),
	})}
	patches := DiffSnapshots(old, current, nil, nil, schema.DefaultAtomicShapes())
	if len(patches) != 1 || patches[0].Path != "/pos" || patches[0].Op != value.OpReplace {
		t.Fatalf("expected whole-value replace of /pos, got %v", patches)
	}
	if _, ok := patches[0].Value.Field("y"); !ok {
		t.Fatalf("replacement should carry the full object: %v", patches[0].Value)
	}
}

func TestDiffReplacesArraysWholesale(t *testing.T) {
	old := value.Snapshot{"list": value.Array(value.Int(1), value.Int(2))}
	current := value.Snapshot{"list": value.Array(value.Int(1), value.Int(3), value.Int(4))}
	patches := DiffSnapshots(old, current, nil, nil, schema.DefaultAtomicShapes())
	if len(patches) != 1 || patches[0].Op != value.OpReplace || patches[0].Path != "/list" {
		t.Fatalf("expected whole-array replace, got %v", patches)
	}
}

func TestDiffHonoursOnlyPaths(t *testing.T) {
	old := value.Snapshot{"a": value.Int(1), "b": value.Int(2)}
	current := value.Snapshot{"a": value.Int(10), "b": value.Int(20)}
	only := map[string]struct{}{"/b": {}}
	patches := DiffSnapshots(old, current, only, nil, schema.DefaultAtomicShapes())
	if len(patches) != 1 || patches[0].Path != "/b" {
		t.Fatalf("expected only /b, got %v", patches)
	}

	//1.- Selecting a descendant keeps the ancestor key in play.
	old = value.Snapshot{"nest": obj(map[string]value.Value{"x": value.String("old"), "y": value.String("old")})}
	current = value.Snapshot{"nest": obj(map[string]value.Value{"x": value.String("new"), "y": value.String("new")})}
	only = map[string]struct{}{"/nest/x": {}}
	patches = DiffSnapshots(old, current, only, nil, schema.DefaultAtomicShapes())
	found := false
	for _, patch := range patches {
		if patch.Path == "/nest/x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected /nest/x in %v", patches)
	}
}

func TestDiffDirtyFilterPreventsFalseRemoves(t *testing.T) {
	//1.- A truncated new snapshot (dirty-only extraction) must not read
	// missing clean keys as deletes.
	old := value.Snapshot{"clean": value.Int(1), "dirty": value.Int(2)}
	current := value.Snapshot{"dirty": value.Int(3)}
	dirty := map[string]struct{}{"dirty": {}}
	patches := DiffSnapshots(old, current, nil, dirty, schema.DefaultAtomicShapes())
	if len(patches) != 1 || patches[0].Path != "/dirty" || patches[0].Op != value.OpReplace {
		t.Fatalf("expected single replace of /dirty, got %v", patches)
	}

	//2.- A key that is dirty and absent from the new snapshot is a real delete.
	dirty = map[string]struct{}{"clean": {}, "dirty": {}}
	current = value.Snapshot{"dirty": value.Int(3)}
	patches = DiffSnapshots(old, current, nil, dirty, schema.DefaultAtomicShapes())
	foundRemove := false
	for _, patch := range patches {
		if patch.Op == value.OpRemove && patch.Path == "/clean" {
			foundRemove = true
		}
	}
	if !foundRemove {
		t.Fatalf("expected remove of /clean, got %v", patches)
	}
}

func TestDiffEscapesPointerTokens(t *testing.T) {
	old := value.Snapshot{}
	current := value.Snapshot{"a/b~c": value.Int(1)}
	patches := DiffSnapshots(old, current, nil, nil, schema.DefaultAtomicShapes())
	if len(patches) != 1 || patches[0].Path != "/a~1b~0c" {
		t.Fatalf("expected escaped pointer path, got %v", patches)
	}
}

func TestMergePatchesPerPlayerOverrides(t *testing.T) {
	broadcast := []value.Patch{
		value.Replace("/score", value.Int(1)),
		value.Replace("/shared", value.Int(2)),
	}
	perPlayer := []value.Patch{
		value.Replace("/shared", value.Int(99)),
		value.Add("/mine", value.Bool(true)),
	}
	merged := MergePatches(broadcast, perPlayer)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged patches, got %v", merged)
	}
	//1.- The per-player patch replaced the broadcast one in place.
	if got, _ := merged[1].Value.IntValue(); got != 99 {
		t.Fatalf("expected per-player override at /shared, got %v", merged[1])
	}
	if merged[2].Path != "/mine" {
		t.Fatalf("expected /mine appended, got %v", merged[2])
	}
}
