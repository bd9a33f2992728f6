package value

import (
	"encoding/json"
	"fmt"
)

// UpdateKind distinguishes the three per-player sync outcomes.
type UpdateKind uint8

const (
	UpdateNoChange UpdateKind = iota
	UpdateFirstSync
	UpdateDiff
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateNoChange:
		return "no_change"
	case UpdateFirstSync:
		return "first_sync"
	case UpdateDiff:
		return "diff"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Update is the unit delivered to one player for one sync cycle.
type Update struct {
	Kind    UpdateKind
	Patches []Patch
}

// NoChange reports that the player's view is already current.
func NoChange() Update { return Update{Kind: UpdateNoChange} }

// FirstSync signals that the engine has taken over syncing for the player.
func FirstSync(patches []Patch) Update { return Update{Kind: UpdateFirstSync, Patches: patches} }

// Diff carries incremental patches against the player's last observed snapshot.
func Diff(patches []Patch) Update { return Update{Kind: UpdateDiff, Patches: patches} }

// IsNoChange reports whether the update carries nothing to deliver.
func (u Update) IsNoChange() bool { return u.Kind == UpdateNoChange }

type updateWire struct {
	Type    string  `json:"type"`
	Patches []Patch `json:"patches"`
}

// MarshalJSON encodes the update envelope with its RFC 6902 patch list.
// A firstSync with nothing to say still carries an explicit empty array.
func (u Update) MarshalJSON() ([]byte, error) {
	if u.Kind == UpdateNoChange {
		return []byte(`{"type":"no_change"}`), nil
	}
	wire := updateWire{Type: u.Kind.String(), Patches: u.Patches}
	if wire.Patches == nil {
		wire.Patches = []Patch{}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an update envelope.
func (u *Update) UnmarshalJSON(data []byte) error {
	var wire updateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case "no_change":
		*u = NoChange()
	case "first_sync":
		*u = FirstSync(wire.Patches)
	case "diff":
		*u = Diff(wire.Patches)
	default:
		return fmt.Errorf("unknown update type %q", wire.Type)
	}
	return nil
}
