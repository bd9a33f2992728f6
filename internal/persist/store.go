// Package persist stores full Land snapshots on disk as snappy-compressed
// JSON, one file per Land, written atomically so a crash never leaves a
// half-written snapshot behind.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"

	"landkeeper/engine/internal/value"
)

// ErrNotFound signals that no snapshot exists for the Land.
var ErrNotFound = errors.New("no snapshot for land")

var nameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Envelope wraps a persisted snapshot with enough metadata to restore it.
type Envelope struct {
	Version  int            `json:"version"`
	LandType string         `json:"land_type"`
	LandID   string         `json:"land_id"`
	TickID   int64          `json:"tick_id"`
	SavedAt  string         `json:"saved_at"`
	Snapshot value.Snapshot `json:"snapshot"`
}

// Store is a directory-backed snapshot store. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewStore prepares the snapshot directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) pathFor(landType, landID string) string {
	cleanType := nameCleaner.ReplaceAllString(landType, "")
	cleanID := nameCleaner.ReplaceAllString(landID, "")
	if cleanType == "" {
		cleanType = "land"
	}
	if cleanID == "" {
		cleanID = "unnamed"
	}
	return filepath.Join(s.dir, cleanType, cleanID+".json.sz")
}

// SaveSnapshot writes the Land's full snapshot atomically. It implements the
// runtime's Persister hook.
func (s *Store) SaveSnapshot(ctx context.Context, landType, landID string, tickID int64, snapshot value.Snapshot) error {
	if s == nil {
		return fmt.Errorf("store not initialised")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	envelope := Envelope{
		Version:  1,
		LandType: landType,
		LandID:   landID,
		TickID:   tickID,
		SavedAt:  s.now().UTC().Format(time.RFC3339Nano),
		Snapshot: snapshot,
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(landType, landID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	//1.- Write to a temp file in the same directory so the rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	stream := snappy.NewBufferedWriter(tmp)
	if _, err := stream.Write(encoded); err != nil {
		stream.Close()
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := stream.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// LoadSnapshot reads a Land's last persisted snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, landType, landID string) (Envelope, error) {
	if s == nil {
		return Envelope{}, fmt.Errorf("store not initialised")
	}
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}

	file, err := os.Open(s.pathFor(landType, landID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Envelope{}, fmt.Errorf("%w: %s/%s", ErrNotFound, landType, landID)
		}
		return Envelope{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(snappy.NewReader(file))
	if err != nil {
		return Envelope{}, err
	}
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return envelope, nil
}

// ListLands reports the persisted Land ids for one type, sorted.
func (s *Store) ListLands(landType string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store not initialised")
	}
	cleanType := nameCleaner.ReplaceAllString(landType, "")
	entries, err := os.ReadDir(filepath.Join(s.dir, cleanType))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !hasSuffix(name, ".json.sz") {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json.sz")])
	}
	return ids, nil
}

func hasSuffix(name, suffix string) bool {
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}
