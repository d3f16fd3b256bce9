// Package fixtures defines the read-only fixture source consumed by the pipeline.
package fixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// DateRange is an inclusive range of calendar days in UTC.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Day returns the range covering a single calendar day.
func Day(t time.Time) DateRange {
	d := truncateDay(t)
	return DateRange{From: d, To: d}
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(truncateDay(r.From)) && !d.After(truncateDay(r.To))
}

// Window is a historical lookback ending at End. Days <= 0 means all history.
type Window struct {
	End  time.Time
	Days int
}

// Range converts the window to a DateRange. Unbounded windows start at the zero time.
func (w Window) Range() DateRange {
	if w.Days <= 0 {
		return DateRange{From: time.Time{}, To: w.End}
	}
	return DateRange{From: w.End.AddDate(0, 0, -w.Days), To: w.End}
}

// Repository lists fixtures for a league.
type Repository interface {
	ListFixtures(ctx context.Context, league string, r DateRange) ([]models.Fixture, error)
	ListHistoricalResults(ctx context.Context, league string, w Window) ([]models.Fixture, error)
}

// Static is an in-memory Repository holding a fixed fixture set.
type Static struct {
	mu       sync.RWMutex
	fixtures map[string][]models.Fixture
	failures map[string]error
}

// NewStatic builds a Static repository from fixtures grouped by their League.
func NewStatic(fx ...models.Fixture) *Static {
	s := &Static{
		fixtures: make(map[string][]models.Fixture),
		failures: make(map[string]error),
	}
	for _, f := range fx {
		s.fixtures[f.League] = append(s.fixtures[f.League], f)
	}
	return s
}

// Fail makes every call for league return err.
func (s *Static) Fail(league string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[league] = err
}

func (s *Static) ListFixtures(ctx context.Context, league string, r DateRange) ([]models.Fixture, error) {
	return s.list(ctx, league, func(f models.Fixture) bool {
		return r.Contains(f.Kickoff)
	})
}

func (s *Static) ListHistoricalResults(ctx context.Context, league string, w Window) ([]models.Fixture, error) {
	r := w.Range()
	return s.list(ctx, league, func(f models.Fixture) bool {
		return f.Status == models.StatusFinished && r.Contains(f.Kickoff)
	})
}

func (s *Static) list(ctx context.Context, league string, keep func(models.Fixture) bool) ([]models.Fixture, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.FetchError{League: league, Reason: models.FetchNetwork, Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.failures[league]; ok {
		return nil, &models.FetchError{League: league, Reason: models.FetchNetwork, Err: err}
	}
	var out []models.Fixture
	for _, f := range s.fixtures[league] {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Kickoff.Equal(out[j].Kickoff) {
			return out[i].Kickoff.Before(out[j].Kickoff)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ParseDay parses a YYYY-MM-DD date in UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DayLayout is the calendar-day format used in cache keys and API queries.
const DayLayout = "2006-01-02"

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
