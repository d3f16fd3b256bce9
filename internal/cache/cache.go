// Package cache persists pick candidate snapshots per league and date with
// whole-snapshot replace semantics.
package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// ErrNotFound is returned by Read when no snapshot exists for the key.
var ErrNotFound = errors.New("snapshot not found")

// Store reads and atomically replaces snapshots.
// A Read concurrent with a Write observes either the old or the new snapshot.
type Store interface {
	Write(ctx context.Context, snapshot *models.CacheSnapshot) error
	Read(ctx context.Context, league, date string) (*models.CacheSnapshot, error)
}

var keyPart = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func key(league, date string) string {
	return league + "/" + date
}

func checkKey(league, date string) error {
	if !keyPart.MatchString(league) {
		return fmt.Errorf("invalid league %q", league)
	}
	if !keyPart.MatchString(date) {
		return fmt.Errorf("invalid date %q", date)
	}
	return nil
}

func checkSnapshot(s *models.CacheSnapshot) error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if err := checkKey(s.League, s.Date); err != nil {
		return err
	}
	return s.Verify()
}

// keyLocks hands out one mutex per key so writes serialize per (league, date)
// while distinct keys proceed in parallel.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// MemoryStore keeps snapshots in process. Stored snapshots are never mutated;
// a write swaps in a fresh copy.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.CacheSnapshot
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*models.CacheSnapshot)}
}

func (m *MemoryStore) Write(ctx context.Context, s *models.CacheSnapshot) error {
	if err := checkSnapshot(s); err != nil {
		return writeError(s, err)
	}
	c := s.Clone()
	m.mu.Lock()
	m.snapshots[key(s.League, s.Date)] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, league, date string) (*models.CacheSnapshot, error) {
	m.mu.RLock()
	s, ok := m.snapshots[key(league, date)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func writeError(s *models.CacheSnapshot, err error) error {
	if s == nil {
		return &models.CacheWriteError{Err: err}
	}
	return &models.CacheWriteError{League: s.League, Date: s.Date, Err: err}
}
