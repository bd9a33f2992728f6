package schema

import (
	"sort"
	"strings"

	"landkeeper/engine/internal/value"
)

// AtomicShapes declares object key sets that must be diffed as a whole value
// rather than field-by-field (integer vectors, angle wrappers, and similar).
// Shapes are schema metadata, not inferred from traffic.
type AtomicShapes struct {
	shapes map[string]struct{}
}

// NewAtomicShapes returns an empty registry.
func NewAtomicShapes() *AtomicShapes {
	return &AtomicShapes{shapes: make(map[string]struct{})}
}

// DefaultAtomicShapes preregisters the 2D and 3D vector shapes.
func DefaultAtomicShapes() *AtomicShapes {
	shapes := NewAtomicShapes()
	shapes.Register("x", "y")
	shapes.Register("x", "y", "z")
	return shapes
}

// Register declares an object shape by its exact key set.
func (s *AtomicShapes) Register(keys ...string) {
	if s == nil || len(keys) == 0 {
		return
	}
	s.shapes[shapeSignature(keys)] = struct{}{}
}

// Matches reports whether the object value's key set is a declared atomic shape.
func (s *AtomicShapes) Matches(obj value.Value) bool {
	if s == nil || obj.Kind() != value.KindObject {
		return false
	}
	names := obj.FieldNames()
	if len(names) == 0 {
		return false
	}
	_, ok := s.shapes[shapeSignature(names)]
	return ok
}

func shapeSignature(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
