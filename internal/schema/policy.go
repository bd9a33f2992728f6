package schema

import (
	"fmt"
	"reflect"

	"landkeeper/engine/internal/value"
)

// PolicyKind enumerates the per-field synchronization rules.
type PolicyKind uint8

const (
	PolicyBroadcast PolicyKind = iota
	PolicyServerOnly
	PolicyPerPlayer
	PolicyPerPlayerSlice
	PolicyMasked
	PolicyCustom
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyBroadcast:
		return "broadcast"
	case PolicyServerOnly:
		return "server_only"
	case PolicyPerPlayer:
		return "per_player"
	case PolicyPerPlayerSlice:
		return "per_player_slice"
	case PolicyMasked:
		return "masked"
	case PolicyCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// BroadcastBound reports whether fields under this policy travel with the
// broadcast snapshot rather than the per-player one.
func (k PolicyKind) BroadcastBound() bool {
	return k == PolicyBroadcast || k == PolicyMasked
}

// PlayerBound reports whether fields under this policy are projected per player.
func (k PolicyKind) PlayerBound() bool {
	return k == PolicyPerPlayer || k == PolicyPerPlayerSlice || k == PolicyCustom
}

// MaskFunc rewrites a field value before broadcast emission.
type MaskFunc func(raw any) any

// FilterFunc projects a per-player field for one viewer.
type FilterFunc func(raw any, viewer string) any

// CustomFunc projects a field for one viewer; ok=false suppresses the field.
type CustomFunc func(raw any, viewer string) (projected any, ok bool)

// Policy is the declarative sync rule attached to a state-node field.
type Policy struct {
	kind   PolicyKind
	mask   MaskFunc
	filter FilterFunc
	custom CustomFunc
}

// Kind reports the policy family.
func (p Policy) Kind() PolicyKind { return p.kind }

// Broadcast sends the same value to every player.
func Broadcast() Policy { return Policy{kind: PolicyBroadcast} }

// ServerOnly keeps the field out of every snapshot.
func ServerOnly() Policy { return Policy{kind: PolicyServerOnly} }

// Masked broadcasts the value after rewriting it with transform.
func Masked(transform MaskFunc) Policy {
	return Policy{kind: PolicyMasked, mask: transform}
}

// PerPlayer projects the field through filter for each viewer.
func PerPlayer(filter FilterFunc) Policy {
	return Policy{kind: PolicyPerPlayer, filter: filter}
}

// PerPlayerSlice selects the viewer's own entry from a player-keyed mapping,
// emitted as a single-entry object so patch paths stay player-scoped.
func PerPlayerSlice() Policy {
	return Policy{kind: PolicyPerPlayerSlice, filter: sliceFilter}
}

// Custom applies an arbitrary per-viewer transform; a false result drops the field.
func Custom(transform CustomFunc) Policy {
	return Policy{kind: PolicyCustom, custom: transform}
}

// sliceFilter retains only the viewer's entry of a string-convertible map.
func sliceFilter(raw any, viewer string) any {
	if raw == nil || viewer == "" {
		return nil
	}
	//1.- Tracked containers expose their backing map through Unwrapper.
	if unwrapper, ok := raw.(value.Unwrapper); ok {
		raw = unwrapper.UnwrapValue()
		if raw == nil {
			return nil
		}
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map {
		return nil
	}
	//1.- Walk the map keys and keep the one whose string form matches the viewer.
	iter := rv.MapRange()
	for iter.Next() {
		if keyString(iter.Key()) != viewer {
			continue
		}
		selected := reflect.MakeMap(rv.Type())
		selected.SetMapIndex(iter.Key(), iter.Value())
		return selected.Interface()
	}
	return nil
}

func keyString(key reflect.Value) string {
	switch key.Kind() {
	case reflect.String:
		return key.String()
	default:
		if stringer, ok := key.Interface().(fmt.Stringer); ok {
			return stringer.String()
		}
		return fmt.Sprint(key.Interface())
	}
}
