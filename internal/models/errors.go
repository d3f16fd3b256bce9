package models

import "fmt"

// FetchReason classifies why an upstream fetch failed.
type FetchReason string

const (
	FetchNetwork   FetchReason = "network"
	FetchRateLimit FetchReason = "rate_limit"
	FetchMalformed FetchReason = "malformed"
	FetchStatus    FetchReason = "status"
)

// FetchError means upstream data for a league was unavailable or malformed.
type FetchError struct {
	League string
	Reason FetchReason
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.League, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ModelError means the match model could not be built for a fixture.
type ModelError struct {
	FixtureID string
	Reason    string
}

func (e *ModelError) Error() string {
	if e.FixtureID == "" {
		return "model error: " + e.Reason
	}
	return fmt.Sprintf("model error for fixture %s: %s", e.FixtureID, e.Reason)
}

// CacheWriteError means a snapshot could not be persisted.
type CacheWriteError struct {
	League string
	Date   string
	Err    error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s/%s failed: %v", e.League, e.Date, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// SettlementConflict means a settled pick was re-settled with a different score.
type SettlementConflict struct {
	PickID   string
	Recorded Score
	Got      Score
}

func (e *SettlementConflict) Error() string {
	return fmt.Sprintf("settlement conflict for pick %s: recorded %s, got %s", e.PickID, e.Recorded, e.Got)
}
