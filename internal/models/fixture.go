package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FixtureStatus is the lifecycle state of a fixture as seen by the pipeline.
type FixtureStatus string

const (
	StatusScheduled FixtureStatus = "SCHEDULED"
	StatusFinished  FixtureStatus = "FINISHED"
	StatusPostponed FixtureStatus = "POSTPONED"
)

// Team identifies a club within a league.
type Team struct {
	ID       string `json:"id"`
	LeagueID string `json:"league_id"`
}

// Score is a full-time scoreline.
type Score struct {
	Home int `json:"home" validate:"gte=0"`
	Away int `json:"away" validate:"gte=0"`
}

func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.Home, s.Away)
}

// Fixture is a scheduled, finished or postponed match.
// Odds holds optional decimal odds keyed by SelectionKey(market, selection).
type Fixture struct {
	ID       string             `json:"id" validate:"required"`
	League   string             `json:"league" validate:"required"`
	HomeTeam string             `json:"home_team" validate:"required"`
	AwayTeam string             `json:"away_team" validate:"required,nefield=HomeTeam"`
	Kickoff  time.Time          `json:"kickoff" validate:"required"`
	Status   FixtureStatus      `json:"status" validate:"oneof=SCHEDULED FINISHED POSTPONED"`
	Score    *Score             `json:"score,omitempty"`
	Odds     map[string]float64 `json:"odds,omitempty"`
}

// Home returns the home side as a Team.
func (f *Fixture) Home() Team {
	return Team{ID: f.HomeTeam, LeagueID: f.League}
}

// Away returns the away side as a Team.
func (f *Fixture) Away() Team {
	return Team{ID: f.AwayTeam, LeagueID: f.League}
}

// Validate checks structural fields and the score/status pairing.
func (f *Fixture) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid fixture %q: %w", f.ID, err)
	}
	if f.Status == StatusFinished && f.Score == nil {
		return errors.New("finished fixture must carry a final score")
	}
	if f.Status != StatusFinished && f.Score != nil {
		return errors.New("only finished fixtures carry a final score")
	}
	for key, odds := range f.Odds {
		if odds <= 1.0 {
			return fmt.Errorf("odds for %s must be greater than 1.0", key)
		}
	}
	return nil
}

// SelectionKey builds the key used to look up odds for a market selection.
func SelectionKey(market, selection string) string {
	return market + ":" + selection
}
