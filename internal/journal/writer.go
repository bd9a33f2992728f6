// Package journal streams a Land's committed sync history to disk: broadcast
// patch frames as compressed JSONL, periodic full snapshots as a compressed
// binary stream, and a manifest tying the bundle together. A journal plus its
// base snapshot is enough to rebuild the broadcast view at any recorded tick.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"landkeeper/engine/internal/value"
)

var landIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FrameRecord is one committed broadcast frame on the JSONL stream. Seq is the
// frame's position in the bundle's write order; snapshots carry the seq of the
// last frame they already include, so rebuilds know exactly where to resume
// even when several frames share a tick id.
type FrameRecord struct {
	LandID     string        `json:"land_id"`
	Seq        int64         `json:"seq"`
	TickID     int64         `json:"tick_id"`
	CapturedAt string        `json:"captured_at"`
	Patches    []value.Patch `json:"patches"`
}

// snapshotBlob is the msgpack layout of one full snapshot on the binary stream.
type snapshotBlob struct {
	LandID     string            `msgpack:"land_id"`
	Seq        int64             `msgpack:"seq"`
	TickID     int64             `msgpack:"tick_id"`
	CapturedAt int64             `msgpack:"captured_at_ns"`
	Snapshot   map[string][]byte `msgpack:"snapshot"`
}

// Manifest describes the journal bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version       int    `json:"version"`
	LandID        string `json:"land_id"`
	CreatedAt     string `json:"created_at"`
	FramesPath    string `json:"frames_path"`
	SnapshotsPath string `json:"snapshots_path"`
}

// Writer streams one Land's journal to disk. Safe for concurrent use.
type Writer struct {
	mu             sync.Mutex
	dir            string
	landID         string
	now            func() time.Time
	frameFile      *os.File
	frameStream    *snappy.Writer
	snapshotFile   *os.File
	snapshotStream *zstd.Encoder
	seq            int64
	closed         bool
}

// NewWriter prepares the journal directory and opens compressed sinks.
func NewWriter(root, landID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("journal root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := landIDCleaner.ReplaceAllString(landID, "")
	if cleaned == "" {
		cleaned = "land"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	framesPath := filepath.Join(path, "frames.jsonl.sz")
	snapshotsPath := filepath.Join(path, "snapshots.bin.zst")
	manifestPath := filepath.Join(path, "manifest.json")

	frameFile, err := os.Create(framesPath)
	if err != nil {
		return nil, Manifest{}, err
	}
	frameStream := snappy.NewBufferedWriter(frameFile)

	snapshotFile, err := os.Create(snapshotsPath)
	if err != nil {
		frameFile.Close()
		return nil, Manifest{}, err
	}
	snapshotStream, err := zstd.NewWriter(snapshotFile)
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		snapshotFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:       1,
		LandID:        landID,
		CreatedAt:     created.Format(time.RFC3339Nano),
		FramesPath:    "frames.jsonl.sz",
		SnapshotsPath: "snapshots.bin.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		snapshotStream.Close()
		snapshotFile.Close()
		frameStream.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		snapshotStream.Close()
		snapshotFile.Close()
		frameStream.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:            path,
		landID:         landID,
		now:            clock,
		frameFile:      frameFile,
		frameStream:    frameStream,
		snapshotFile:   snapshotFile,
		snapshotStream: snapshotStream,
	}, manifest, nil
}

// Directory exposes the directory backing the journal bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// RecordFrame appends one committed broadcast frame. It implements the
// runtime's Recorder hook, so failures are logged by the caller, not fatal.
func (w *Writer) RecordFrame(landID string, tickID int64, patches []value.Patch) {
	_ = w.AppendFrame(landID, tickID, patches)
}

// RecordSnapshot appends a base snapshot, the journaling counterpart of
// RecordFrame on the runtime's Recorder hook.
func (w *Writer) RecordSnapshot(_ string, tickID int64, snapshot value.Snapshot) {
	_ = w.AppendSnapshot(tickID, snapshot)
}

// AppendFrame writes a single JSON frame line to the compressed frame log.
func (w *Writer) AppendFrame(landID string, tickID int64, patches []value.Patch) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("journal writer closed")
	}

	//1.- One frame per line so downstream JSONL parsers can stream it safely.
	w.seq++
	record := FrameRecord{
		LandID:     landID,
		Seq:        w.seq,
		TickID:     tickID,
		CapturedAt: captured.Format(time.RFC3339Nano),
		Patches:    patches,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.frameStream.Write(line); err != nil {
		return err
	}
	if _, err := w.frameStream.Write([]byte("\n")); err != nil {
		return err
	}
	return w.frameStream.Flush()
}

// AppendSnapshot writes a full snapshot to the binary stream so rebuilds can
// start from the nearest snapshot instead of the beginning of time.
func (w *Writer) AppendSnapshot(tickID int64, snapshot value.Snapshot) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	//1.- Snapshot values travel as their canonical JSON bytes inside the
	// msgpack envelope, so the two wire forms cannot drift apart.
	fields := make(map[string][]byte, len(snapshot))
	for name, entry := range snapshot {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", name, err)
		}
		fields[name] = encoded
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("journal writer closed")
	}

	//2.- The snapshot inherits the current frame seq: it captures the state
	// after every frame written so far, so rebuilds resume from the next one.
	blob, err := msgpack.Marshal(snapshotBlob{
		LandID:     w.landID,
		Seq:        w.seq,
		TickID:     tickID,
		CapturedAt: captured.UnixNano(),
		Snapshot:   fields,
	})
	if err != nil {
		return err
	}

	//3.- Length-prefix each blob so readers can step without decoding ahead.
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(blob)))
	if _, err := w.snapshotStream.Write(header); err != nil {
		return err
	}
	if _, err := w.snapshotStream.Write(blob); err != nil {
		return err
	}
	return nil
}

// Close flushes all buffers and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush/close and surface the first failure.
	var firstErr error
	if err := w.frameStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.snapshotStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.snapshotFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
