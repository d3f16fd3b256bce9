package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MarketOutcome is the model's view of one market selection.
// Implied and Edge are nil when no external odds were supplied.
type MarketOutcome struct {
	Market      string   `json:"market"`
	Selection   string   `json:"selection"`
	Probability float64  `json:"probability"`
	FairOdds    float64  `json:"fair_odds"`
	Implied     *float64 `json:"implied,omitempty"`
	Edge        *float64 `json:"edge,omitempty"`
}

// HasEdge reports whether external odds produced an edge.
func (o MarketOutcome) HasEdge() bool {
	return o.Edge != nil
}

// PickCandidate is a ranked market outcome for a fixture.
type PickCandidate struct {
	ID        string    `json:"id"`
	FixtureID string    `json:"fixture_id"`
	League    string    `json:"league"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	Kickoff   time.Time `json:"kickoff"`
	MarketOutcome
	Score         float64   `json:"score"`
	LowConfidence bool      `json:"low_confidence"`
	XGHome        float64   `json:"xg_home"`
	XGAway        float64   `json:"xg_away"`
	XGTotal       float64   `json:"xg_total"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CacheSnapshot is the complete set of candidates for one league on one date.
type CacheSnapshot struct {
	League      string          `json:"league"`
	Date        string          `json:"date"`
	GeneratedAt time.Time       `json:"generated_at"`
	Candidates  []PickCandidate `json:"candidates"`
	Count       int             `json:"count"`
	Checksum    string          `json:"checksum"`
}

// NewCacheSnapshot seals candidates into a snapshot with count and checksum.
func NewCacheSnapshot(league, date string, candidates []PickCandidate, generatedAt time.Time) *CacheSnapshot {
	if candidates == nil {
		candidates = []PickCandidate{}
	}
	return &CacheSnapshot{
		League:      league,
		Date:        date,
		GeneratedAt: generatedAt,
		Candidates:  candidates,
		Count:       len(candidates),
		Checksum:    SnapshotChecksum(candidates),
	}
}

// Verify reports whether the snapshot is internally consistent.
func (s *CacheSnapshot) Verify() error {
	if s.Count != len(s.Candidates) {
		return fmt.Errorf("snapshot %s/%s: count %d does not match %d candidates", s.League, s.Date, s.Count, len(s.Candidates))
	}
	if sum := SnapshotChecksum(s.Candidates); sum != s.Checksum {
		return fmt.Errorf("snapshot %s/%s: checksum mismatch", s.League, s.Date)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a stored snapshot.
func (s *CacheSnapshot) Clone() *CacheSnapshot {
	c := *s
	c.Candidates = make([]PickCandidate, len(s.Candidates))
	copy(c.Candidates, s.Candidates)
	return &c
}

// SnapshotChecksum hashes the ordered candidate ids and probabilities.
func SnapshotChecksum(candidates []PickCandidate) string {
	h := sha256.New()
	for _, c := range candidates {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(c.Probability, 'g', -1, 64)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
