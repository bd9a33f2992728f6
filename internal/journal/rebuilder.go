package journal

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"landkeeper/engine/internal/value"
)

// Rebuild reconstructs the broadcast view at targetTick: it starts from the
// newest recorded snapshot at or before the tick and applies every later
// frame up to and including it. A negative targetTick means "latest".
func (l *Loader) Rebuild(targetTick int64) (value.Snapshot, int64, error) {
	if l == nil {
		return nil, -1, fmt.Errorf("loader not initialised")
	}
	if targetTick < 0 {
		targetTick = l.lastTick()
	}

	//1.- Find the newest base snapshot that does not overshoot the target.
	base := value.Snapshot{}
	baseTick := int64(-1)
	baseSeq := int64(0)
	for _, record := range l.snapshots {
		if record.TickID > targetTick {
			break
		}
		base = record.Snapshot
		baseTick = record.TickID
		baseSeq = record.Seq
	}
	document, err := json.Marshal(base)
	if err != nil {
		return nil, -1, fmt.Errorf("encode base snapshot: %w", err)
	}

	//2.- Walk the frame timeline forward applying each patch set in write
	// order. Frames the base snapshot already folded in are identified by
	// seq, not tick, so a frame landing on the snapshot's tick still applies.
	rebuiltTick := baseTick
	for _, frame := range l.frames {
		if frame.Seq <= baseSeq || frame.TickID > targetTick {
			continue
		}
		if len(frame.Patches) == 0 {
			rebuiltTick = frame.TickID
			continue
		}
		encoded, err := json.Marshal(frame.Patches)
		if err != nil {
			return nil, -1, fmt.Errorf("encode patches at tick %d: %w", frame.TickID, err)
		}
		patch, err := jsonpatch.DecodePatch(encoded)
		if err != nil {
			return nil, -1, fmt.Errorf("decode patches at tick %d: %w", frame.TickID, err)
		}
		document, err = patch.Apply(document)
		if err != nil {
			return nil, -1, fmt.Errorf("apply patches at tick %d: %w", frame.TickID, err)
		}
		rebuiltTick = frame.TickID
	}

	var rebuilt value.Snapshot
	if err := json.Unmarshal(document, &rebuilt); err != nil {
		return nil, -1, fmt.Errorf("decode rebuilt snapshot: %w", err)
	}
	return rebuilt, rebuiltTick, nil
}

func (l *Loader) lastTick() int64 {
	last := int64(-1)
	if len(l.frames) > 0 {
		last = l.frames[len(l.frames)-1].TickID
	}
	if len(l.snapshots) > 0 && l.snapshots[len(l.snapshots)-1].TickID > last {
		last = l.snapshots[len(l.snapshots)-1].TickID
	}
	return last
}
