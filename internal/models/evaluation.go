package models

import "time"

// Outcome is the settlement state of a pick.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeVoid    Outcome = "VOID"
)

// Terminal reports whether the outcome can no longer change.
func (o Outcome) Terminal() bool {
	return o == OutcomeWin || o == OutcomeLoss || o == OutcomeVoid
}

// EvaluationRecord tracks one pick from generation to settlement.
// FinalScore is recorded at settlement and nil for PENDING and most VOID records.
type EvaluationRecord struct {
	PickID      string    `json:"pick_id"`
	FixtureID   string    `json:"fixture_id"`
	League      string    `json:"league"`
	Market      string    `json:"market"`
	Selection   string    `json:"selection"`
	Probability float64   `json:"probability"`
	FairOdds    float64   `json:"fair_odds"`
	Kickoff     time.Time `json:"kickoff"`
	Outcome     Outcome   `json:"outcome"`
	FinalScore  *Score    `json:"final_score,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
}

// NewPendingEvaluation opens an evaluation record for a freshly generated candidate.
func NewPendingEvaluation(c PickCandidate, now time.Time) EvaluationRecord {
	return EvaluationRecord{
		PickID:      c.ID,
		FixtureID:   c.FixtureID,
		League:      c.League,
		Market:      c.Market,
		Selection:   c.Selection,
		Probability: c.Probability,
		FairOdds:    c.FairOdds,
		Kickoff:     c.Kickoff,
		Outcome:     OutcomePending,
		CreatedAt:   now,
	}
}
