package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"vesu-liquidator/internal/position"
)

type jsonSnapshot struct {
	BlockNumber uint64                       `json:"block_number"`
	Positions   map[string]position.Position `json:"positions"`
}

// JSONStore keeps the position snapshot in a local file.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore stores snapshots at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// SavePositions atomically replaces the file with the given snapshot.
func (s *JSONStore) SavePositions(_ context.Context, positions map[string]position.Position, block uint64) error {
	if s.path == "" {
		return errors.New("storage: json path not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.MarshalIndent(jsonSnapshot{BlockNumber: block, Positions: positions}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// LoadPositions reads the snapshot; a missing file yields an empty book at block 0.
func (s *JSONStore) LoadPositions(_ context.Context) (map[string]position.Position, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]position.Position{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}

	var snap jsonSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Positions == nil {
		snap.Positions = map[string]position.Position{}
	}
	return snap.Positions, snap.BlockNumber, nil
}

var _ PositionStore = (*JSONStore)(nil)
