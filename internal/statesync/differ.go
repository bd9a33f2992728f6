package statesync

import (
	"sort"
	"strings"

	"landkeeper/engine/internal/schema"
	"landkeeper/engine/internal/value"
)

// DiffSnapshots compares two snapshots key-wise and emits JSON Patch
// operations describing the transition from old to new.
//
// When onlyPaths is non-nil, top-level keys are skipped unless the key's
// pointer path or one of its descendants is selected. When dirtyFields is
// non-nil, keys outside the set are treated as unchanged, so a truncated new
// snapshot is never misread as a delete.
func DiffSnapshots(old, new value.Snapshot, onlyPaths, dirtyFields map[string]struct{}, atomic *schema.AtomicShapes) []value.Patch {
	keys := make(map[string]struct{}, len(old)+len(new))
	for key := range old {
		keys[key] = struct{}{}
	}
	for key := range new {
		keys[key] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	var patches []value.Patch
	for _, key := range ordered {
		path := value.JoinPath("", key)
		if onlyPaths != nil && !pathSelected(onlyPaths, path) {
			continue
		}
		if dirtyFields != nil {
			if _, dirty := dirtyFields[key]; !dirty {
				continue
			}
		}
		oldEntry, inOld := old[key]
		newEntry, inNew := new[key]
		switch {
		case inOld && inNew:
			patches = append(patches, diffValues(oldEntry, newEntry, path, atomic)...)
		case inNew:
			patches = append(patches, value.Add(path, newEntry))
		default:
			patches = append(patches, value.Remove(path))
		}
	}
	return patches
}

// pathSelected reports whether path itself or any descendant is requested.
func pathSelected(onlyPaths map[string]struct{}, path string) bool {
	if _, ok := onlyPaths[path]; ok {
		return true
	}
	prefix := path + "/"
	for candidate := range onlyPaths {
		if strings.HasPrefix(candidate, prefix) {
			return true
		}
	}
	return false
}

// diffValues recurses into a pair of values and emits the minimal patch set.
func diffValues(old, new value.Value, path string, atomic *schema.AtomicShapes) []value.Patch {
	if old.Equal(new) {
		return nil
	}

	//1.- Objects recurse key-wise unless the shape is declared atomic.
	if old.Kind() == value.KindObject && new.Kind() == value.KindObject {
		if atomic.Matches(old) || atomic.Matches(new) {
			return []value.Patch{value.Replace(path, new)}
		}
		return diffObjects(old, new, path, atomic)
	}

	//2.- Arrays are replaced wholesale; element diffing is not attempted.
	return []value.Patch{value.Replace(path, new)}
}

func diffObjects(old, new value.Value, path string, atomic *schema.AtomicShapes) []value.Patch {
	oldFields := old.Fields()
	newFields := new.Fields()
	keys := make(map[string]struct{}, len(oldFields)+len(newFields))
	for key := range oldFields {
		keys[key] = struct{}{}
	}
	for key := range newFields {
		keys[key] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	var patches []value.Patch
	for _, key := range ordered {
		child := value.JoinPath(path, key)
		oldEntry, inOld := oldFields[key]
		newEntry, inNew := newFields[key]
		switch {
		case inOld && inNew:
			patches = append(patches, diffValues(oldEntry, newEntry, child, atomic)...)
		case inNew:
			patches = append(patches, value.Add(child, newEntry))
		default:
			patches = append(patches, value.Remove(child))
		}
	}
	return patches
}

// MergePatches concatenates broadcast and per-player patches. When a path
// collides the per-player patch overrides the broadcast one in place.
func MergePatches(broadcast, perPlayer []value.Patch) []value.Patch {
	if len(perPlayer) == 0 {
		return broadcast
	}
	if len(broadcast) == 0 {
		return perPlayer
	}
	merged := make([]value.Patch, len(broadcast), len(broadcast)+len(perPlayer))
	copy(merged, broadcast)
	index := make(map[string]int, len(merged))
	for idx, patch := range merged {
		index[patch.Path] = idx
	}
	for _, patch := range perPlayer {
		if idx, ok := index[patch.Path]; ok {
			merged[idx] = patch
			continue
		}
		index[patch.Path] = len(merged)
		merged = append(merged, patch)
	}
	return merged
}
