// Package journalinspect rehydrates one journal bundle for offline debugging:
// it lists the recorded frame and snapshot timelines and can rebuild the
// broadcast view at any recorded tick.
package journalinspect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"landkeeper/engine/internal/journal"
	"landkeeper/engine/internal/value"
)

// FrameSummary describes one recorded frame without its patch bodies.
type FrameSummary struct {
	TickID     int64  `json:"tick_id"`
	CapturedAt string `json:"captured_at"`
	Patches    int    `json:"patches"`
}

// SnapshotSummary describes one recorded base snapshot.
type SnapshotSummary struct {
	TickID     int64    `json:"tick_id"`
	CapturedAt string   `json:"captured_at"`
	Fields     []string `json:"fields"`
}

// Report is the full inspection result for one bundle.
type Report struct {
	BundleDir   string            `json:"bundle_dir"`
	Manifest    journal.Manifest  `json:"manifest"`
	Frames      []FrameSummary    `json:"frames"`
	Snapshots   []SnapshotSummary `json:"snapshots"`
	RebuiltTick int64             `json:"rebuilt_tick"`
	Rebuilt     value.Snapshot    `json:"rebuilt"`
}

// Inspect loads the bundle at path and rebuilds the broadcast view at
// targetTick. A negative targetTick rebuilds the latest recorded state. The
// path may point at the bundle directory or its manifest.json.
func Inspect(path string, targetTick int64) (Report, error) {
	if path == "" {
		return Report{}, fmt.Errorf("path is required")
	}
	//1.- Accept either the bundle directory or the manifest file inside it.
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	manifestData, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return Report{}, err
	}
	var manifest journal.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return Report{}, fmt.Errorf("parse manifest: %w", err)
	}

	loader, err := journal.Load(dir)
	if err != nil {
		return Report{}, err
	}

	report := Report{BundleDir: dir, Manifest: manifest}
	for _, frame := range loader.Frames() {
		report.Frames = append(report.Frames, FrameSummary{
			TickID:     frame.TickID,
			CapturedAt: frame.CapturedAt,
			Patches:    len(frame.Patches),
		})
	}
	for _, record := range loader.Snapshots() {
		report.Snapshots = append(report.Snapshots, SnapshotSummary{
			TickID:     record.TickID,
			CapturedAt: record.CapturedAt.Format(time.RFC3339Nano),
			Fields:     record.Snapshot.Keys(),
		})
	}

	rebuilt, tick, err := loader.Rebuild(targetTick)
	if err != nil {
		return Report{}, err
	}
	report.Rebuilt = rebuilt
	report.RebuiltTick = tick
	return report, nil
}
