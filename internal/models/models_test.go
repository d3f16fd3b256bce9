package models

import (
	"errors"
	"testing"
	"time"
)

func TestFixtureValidate(t *testing.T) {
	kickoff := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		fixture Fixture
		wantErr bool
	}{
		{
			name: "valid scheduled fixture",
			fixture: Fixture{
				ID: "1001", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusScheduled,
			},
			wantErr: false,
		},
		{
			name: "valid finished fixture",
			fixture: Fixture{
				ID: "1002", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusFinished, Score: &Score{Home: 2, Away: 1},
			},
			wantErr: false,
		},
		{
			name: "empty ID",
			fixture: Fixture{
				League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusScheduled,
			},
			wantErr: true,
		},
		{
			name: "same team on both sides",
			fixture: Fixture{
				ID: "1003", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Arsenal",
				Kickoff: kickoff, Status: StatusScheduled,
			},
			wantErr: true,
		},
		{
			name: "unknown status",
			fixture: Fixture{
				ID: "1004", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: "IN_PLAY",
			},
			wantErr: true,
		},
		{
			name: "finished without score",
			fixture: Fixture{
				ID: "1005", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusFinished,
			},
			wantErr: true,
		},
		{
			name: "scheduled with score",
			fixture: Fixture{
				ID: "1006", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusScheduled, Score: &Score{},
			},
			wantErr: true,
		},
		{
			name: "negative goals",
			fixture: Fixture{
				ID: "1007", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusFinished, Score: &Score{Home: -1, Away: 0},
			},
			wantErr: true,
		},
		{
			name: "odds below evens floor",
			fixture: Fixture{
				ID: "1008", League: "PL", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
				Kickoff: kickoff, Status: StatusScheduled,
				Odds: map[string]float64{SelectionKey("1X2", "HOME"): 0.9},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fixture.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Fixture.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCacheSnapshotVerify(t *testing.T) {
	now := time.Now()
	cands := []PickCandidate{
		{ID: "a", MarketOutcome: MarketOutcome{Market: "1X2", Selection: "HOME", Probability: 0.61}},
		{ID: "b", MarketOutcome: MarketOutcome{Market: "BTTS", Selection: "NO", Probability: 0.55}},
	}
	snap := NewCacheSnapshot("PL", "2025-03-01", cands, now)
	if err := snap.Verify(); err != nil {
		t.Fatalf("fresh snapshot should verify: %v", err)
	}

	torn := snap.Clone()
	torn.Candidates = torn.Candidates[:1]
	if err := torn.Verify(); err == nil {
		t.Error("expected count mismatch to fail verification")
	}

	mixed := snap.Clone()
	mixed.Candidates[1].ID = "c"
	if err := mixed.Verify(); err == nil {
		t.Error("expected checksum mismatch to fail verification")
	}
	if snap.Candidates[1].ID != "b" {
		t.Error("Clone must not share candidate storage")
	}
}

func TestNewCacheSnapshotEmpty(t *testing.T) {
	snap := NewCacheSnapshot("PL", "2025-03-01", nil, time.Now())
	if snap.Candidates == nil || snap.Count != 0 {
		t.Errorf("empty snapshot should hold an empty list, got %+v", snap)
	}
	if err := snap.Verify(); err != nil {
		t.Errorf("empty snapshot should verify: %v", err)
	}
}

func TestOutcomeTerminal(t *testing.T) {
	if OutcomePending.Terminal() {
		t.Error("PENDING must not be terminal")
	}
	for _, o := range []Outcome{OutcomeWin, OutcomeLoss, OutcomeVoid} {
		if !o.Terminal() {
			t.Errorf("%s must be terminal", o)
		}
	}
}

func TestErrorKindsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	var err error = &FetchError{League: "PL", Reason: FetchNetwork, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("FetchError should unwrap to its cause")
	}
	err = &CacheWriteError{League: "PL", Date: "2025-03-01", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("CacheWriteError should unwrap to its cause")
	}
	conflict := &SettlementConflict{PickID: "p", Recorded: Score{1, 0}, Got: Score{2, 0}}
	if conflict.Error() != "settlement conflict for pick p: recorded 1-0, got 2-0" {
		t.Errorf("unexpected message: %s", conflict.Error())
	}
}
