package value

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFromAnyPrimitives(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  Value
	}{
		{"nil", nil, Null()},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"int64", int64(-7), Int(-7)},
		{"uint32", uint32(9), Int(9)},
		{"float", 1.5, Double(1.5)},
		{"float32", float32(2), Double(2)},
		{"string", "hi", String("hi")},
	}
	for _, tc := range cases {
		got, err := FromAny(tc.input)
		if err != nil {
			t.Fatalf("%s: FromAny returned error: %v", tc.name, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: expected %v kind %v, got kind %v", tc.name, tc.input, tc.want.Kind(), got.Kind())
		}
	}
}

func TestFromAnyRejectsUint64Overflow(t *testing.T) {
	_, err := FromAny(uint64(1) << 63)
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
}

func TestFromAnyContainers(t *testing.T) {
	got, err := FromAny(map[string]any{
		"items": []int{1, 2, 3},
		"inner": map[string]string{"a": "b"},
	})
	if err != nil {
		t.Fatalf("FromAny returned error: %v", err)
	}
	inner, ok := got.Field("inner")
	if !ok || inner.Kind() != KindObject {
		t.Fatalf("expected nested object, got %v", inner.Kind())
	}
	items, ok := got.Field("items")
	if !ok || len(items.Items()) != 3 {
		t.Fatalf("expected three items, got %v", items.Items())
	}
}

func TestFromAnyIntKeyedMap(t *testing.T) {
	got, err := FromAny(map[int]string{7: "seven"})
	if err != nil {
		t.Fatalf("FromAny returned error: %v", err)
	}
	entry, ok := got.Field("7")
	if !ok {
		t.Fatalf("expected key %q, fields: %v", "7", got.FieldNames())
	}
	if text, _ := entry.StringValue(); text != "seven" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestFromAnyStructHonoursJSONTags(t *testing.T) {
	type pos struct {
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Ignored string  `json:"-"`
		hidden  int
	}
	_ = pos{hidden: 1}.hidden
	got, err := FromAny(pos{X: 1, Y: 2, Ignored: "nope"})
	if err != nil {
		t.Fatalf("FromAny returned error: %v", err)
	}
	names := got.FieldNames()
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Fatalf("unexpected field names: %v", names)
	}
}

func TestFromAnyNilPointerAndSlice(t *testing.T) {
	var ptr *int
	got, err := FromAny(ptr)
	if err != nil || !got.IsNull() {
		t.Fatalf("expected null for nil pointer, got %v err %v", got, err)
	}
	var slice []int
	got, err = FromAny(slice)
	if err != nil || !got.IsNull() {
		t.Fatalf("expected null for nil slice, got %v err %v", got, err)
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	original := Object(map[string]Value{
		"count": Int(3),
		"ratio": Double(0.5),
		"name":  String("alice"),
		"tags":  Array(String("a"), String("b")),
		"none":  Null(),
	})
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Value
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(original) {
		t.Fatalf("round trip mismatch: %s", encoded)
	}
	count, _ := decoded.Field("count")
	if count.Kind() != KindInt {
		t.Fatalf("expected whole JSON numbers to decode as int, got %v", count.Kind())
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Object(map[string]Value{"list": Array(Int(1))})
	clone := original.Clone()
	clone.Fields()["list"].Items()[0] = Int(99)
	item := original.Fields()["list"].Items()[0]
	if got, _ := item.IntValue(); got != 1 {
		t.Fatalf("clone mutated original: %d", got)
	}
}

type fakeProjector struct{ viewer string }

func (f *fakeProjector) ProjectValue(viewer string) (Value, error) {
	f.viewer = viewer
	return String("projected:" + viewer), nil
}

func TestFromAnyForDelegatesToProjector(t *testing.T) {
	projector := &fakeProjector{}
	got, err := FromAnyFor(projector, "alice")
	if err != nil {
		t.Fatalf("FromAnyFor returned error: %v", err)
	}
	if text, _ := got.StringValue(); text != "projected:alice" {
		t.Fatalf("unexpected projection: %v", got)
	}
	if projector.viewer != "alice" {
		t.Fatalf("projector saw viewer %q", projector.viewer)
	}
}

type fullFake struct{ fakeProjector }

func (f *fullFake) ProjectFullValue() (Value, error) {
	return String("full"), nil
}

func TestFromAnyFullPrefersFullProjection(t *testing.T) {
	got, err := FromAnyFull(&fullFake{})
	if err != nil {
		t.Fatalf("FromAnyFull returned error: %v", err)
	}
	if text, _ := got.StringValue(); text != "full" {
		t.Fatalf("expected full projection, got %v", got)
	}
}
