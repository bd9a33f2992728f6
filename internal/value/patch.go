package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Op identifies the JSON Patch operation carried by a StatePatch.
type Op string

const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
)

// ErrInvalidPatch signals a patch that violates the RFC 6902 subset in use.
var ErrInvalidPatch = errors.New("invalid state patch")

// Patch is a single JSON Patch operation derived from snapshot comparison.
type Patch struct {
	Op    Op
	Path  string
	Value Value
}

// Replace builds a replace patch for the given pointer path.
func Replace(path string, v Value) Patch { return Patch{Op: OpReplace, Path: path, Value: v} }

// Add builds an add patch for the given pointer path.
func Add(path string, v Value) Patch { return Patch{Op: OpAdd, Path: path, Value: v} }

// Remove builds a remove patch for the given pointer path.
func Remove(path string) Patch { return Patch{Op: OpRemove, Path: path} }

// Equal reports whether two patches are identical including their payloads.
func (p Patch) Equal(other Patch) bool {
	return p.Op == other.Op && p.Path == other.Path && p.Value.Equal(other.Value)
}

type patchWire struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the patch in RFC 6902 wire form; remove omits the value.
func (p Patch) MarshalJSON() ([]byte, error) {
	wire := patchWire{Op: string(p.Op), Path: p.Path}
	if p.Op != OpRemove {
		encoded, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		wire.Value = encoded
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an RFC 6902 operation into the patch.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var wire patchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch Op(wire.Op) {
	case OpReplace, OpAdd:
		var decoded Value
		if len(wire.Value) > 0 {
			if err := json.Unmarshal(wire.Value, &decoded); err != nil {
				return err
			}
		}
		*p = Patch{Op: Op(wire.Op), Path: wire.Path, Value: decoded}
	case OpRemove:
		*p = Patch{Op: OpRemove, Path: wire.Path}
	default:
		return fmt.Errorf("%w: unsupported op %q", ErrInvalidPatch, wire.Op)
	}
	return nil
}

// EscapeToken escapes a path component per RFC 6901 (~ before /).
func EscapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// JoinPath appends an escaped component to a JSON Pointer path.
func JoinPath(base, token string) string {
	return base + "/" + EscapeToken(token)
}
