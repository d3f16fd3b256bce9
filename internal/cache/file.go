package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// FileStore keeps one JSON document per snapshot at <dir>/<league>/<date>.json.
// Writes go to a temp file in the same directory and are renamed into place.
type FileStore struct {
	dir   string
	locks keyLocks
}

// NewFileStore creates dir if needed. An empty dir uses the system temp directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aftr", "cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(league, date string) string {
	return filepath.Join(f.dir, league, date+".json")
}

func (f *FileStore) Write(ctx context.Context, s *models.CacheSnapshot) error {
	if err := checkSnapshot(s); err != nil {
		return writeError(s, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return writeError(s, fmt.Errorf("failed to encode snapshot: %w", err))
	}

	unlock := f.locks.lock(key(s.League, s.Date))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return writeError(s, err)
	}
	if err := writeAtomic(f.path(s.League, s.Date), data); err != nil {
		return writeError(s, err)
	}
	return nil
}

func (f *FileStore) Read(ctx context.Context, league, date string) (*models.CacheSnapshot, error) {
	if err := checkKey(league, date); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(league, date))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s models.CacheSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", league, date, err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
