// Package settlement resolves pending pick evaluations against final scores.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/Agustinjoel/aftr-mvp/internal/logger"
	"github.com/Agustinjoel/aftr-mvp/internal/markets"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// Policy decides when a pick is voided instead of settled.
type Policy struct {
	// VoidPostponed voids picks on postponed fixtures immediately.
	VoidPostponed bool `default:"true"`
	// ResultGrace is how long after kickoff a missing result is tolerated.
	ResultGrace time.Duration `default:"72h"`
}

// DefaultPolicy voids postponed fixtures and waits 72h for missing results.
func DefaultPolicy() Policy {
	var p Policy
	_ = defaults.Set(&p)
	return p
}

// Store is the durable evaluation history keyed by pick id.
// GetEvaluation returns nil, nil when the pick is unknown.
type Store interface {
	UpsertEvaluation(ctx context.Context, rec models.EvaluationRecord) error
	ListPendingEvaluations(ctx context.Context) ([]models.EvaluationRecord, error)
	// ListSettledEvaluations returns WIN and LOSS records of league kicking
	// off at or after since.
	ListSettledEvaluations(ctx context.Context, league string, since time.Time) ([]models.EvaluationRecord, error)
	GetEvaluation(ctx context.Context, pickID string) (*models.EvaluationRecord, error)
}

// Resolve applies one settlement transition. fixture may be nil when the
// provider no longer returns it. changed is false when rec is returned as is.
func Resolve(rec models.EvaluationRecord, fixture *models.Fixture, now time.Time, policy Policy) (out models.EvaluationRecord, changed bool, err error) {
	if rec.Outcome.Terminal() {
		if fixture != nil && fixture.Status == models.StatusFinished && fixture.Score != nil &&
			rec.FinalScore != nil && *rec.FinalScore != *fixture.Score {
			return rec, false, &models.SettlementConflict{PickID: rec.PickID, Recorded: *rec.FinalScore, Got: *fixture.Score}
		}
		return rec, false, nil
	}

	kickoff := rec.Kickoff
	if fixture != nil {
		kickoff = fixture.Kickoff
	}
	pastGrace := now.After(kickoff.Add(policy.ResultGrace))

	switch {
	case fixture != nil && fixture.Status == models.StatusFinished && fixture.Score != nil:
		score := *fixture.Score
		won, err := markets.Settle(rec.Market, rec.Selection, score)
		if err != nil {
			return void(rec, now, err.Error()), true, nil
		}
		rec.Outcome = models.OutcomeLoss
		if won {
			rec.Outcome = models.OutcomeWin
		}
		rec.FinalScore = &score
		rec.Reason = score.String()
		rec.SettledAt = now
		return rec, true, nil

	case fixture != nil && fixture.Status == models.StatusPostponed && policy.VoidPostponed:
		return void(rec, now, "fixture postponed"), true, nil

	case pastGrace:
		return void(rec, now, fmt.Sprintf("no result %s after kickoff", policy.ResultGrace)), true, nil
	}
	return rec, false, nil
}

func void(rec models.EvaluationRecord, now time.Time, reason string) models.EvaluationRecord {
	rec.Outcome = models.OutcomeVoid
	rec.Reason = reason
	rec.SettledAt = now
	return rec
}

// Report counts what one settlement pass did.
type Report struct {
	Checked   int
	Won       int
	Lost      int
	Voided    int
	Pending   int
	Conflicts int
}

// Engine settles pending evaluations against fixtures.
type Engine struct {
	store  Store
	policy Policy
}

// New returns an Engine writing through store.
func New(store Store, policy Policy) *Engine {
	return &Engine{store: store, policy: policy}
}

// Settle resolves every pending evaluation of league against fixtures and
// re-checks settled records whose fixture is in fixtures. Conflicts are
// logged and counted, never written.
func (e *Engine) Settle(ctx context.Context, league string, fixtures []models.Fixture, now time.Time) (Report, error) {
	var report Report

	byID := make(map[string]*models.Fixture, len(fixtures))
	for i := range fixtures {
		byID[fixtures[i].ID] = &fixtures[i]
	}

	conflicts, err := e.recheck(ctx, league, fixtures, byID, now)
	if err != nil {
		return report, err
	}
	report.Conflicts = conflicts

	pending, err := e.store.ListPendingEvaluations(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list pending evaluations: %w", err)
	}

	for _, rec := range pending {
		if rec.League != league {
			continue
		}
		report.Checked++
		out, err := e.settle(ctx, rec, byID[rec.FixtureID], now)
		var conflict *models.SettlementConflict
		if errors.As(err, &conflict) {
			logger.Warn("Settlement conflict for pick %s: %v", rec.PickID, err)
			report.Conflicts++
			continue
		}
		if err != nil {
			return report, err
		}
		switch out.Outcome {
		case models.OutcomeWin:
			report.Won++
		case models.OutcomeLoss:
			report.Lost++
		case models.OutcomeVoid:
			report.Voided++
		default:
			report.Pending++
		}
	}
	return report, nil
}

// recheck compares settled records against the final scores in fixtures.
func (e *Engine) recheck(ctx context.Context, league string, fixtures []models.Fixture, byID map[string]*models.Fixture, now time.Time) (int, error) {
	if len(fixtures) == 0 {
		return 0, nil
	}
	since := fixtures[0].Kickoff
	for _, f := range fixtures[1:] {
		if f.Kickoff.Before(since) {
			since = f.Kickoff
		}
	}
	settled, err := e.store.ListSettledEvaluations(ctx, league, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list settled evaluations: %w", err)
	}
	conflicts := 0
	for _, rec := range settled {
		fx, ok := byID[rec.FixtureID]
		if !ok {
			continue
		}
		_, _, err := Resolve(rec, fx, now, e.policy)
		var conflict *models.SettlementConflict
		if errors.As(err, &conflict) {
			logger.Warn("Settlement conflict for pick %s: %v", rec.PickID, err)
			conflicts++
		}
	}
	return conflicts, nil
}

// SettleOne settles a single pick. Re-settling with the same final score
// returns the stored record unchanged; a different score is a SettlementConflict.
func (e *Engine) SettleOne(ctx context.Context, pickID string, fixture *models.Fixture, now time.Time) (models.EvaluationRecord, error) {
	rec, err := e.store.GetEvaluation(ctx, pickID)
	if err != nil {
		return models.EvaluationRecord{}, fmt.Errorf("failed to load evaluation %s: %w", pickID, err)
	}
	if rec == nil {
		return models.EvaluationRecord{}, fmt.Errorf("evaluation not found: %s", pickID)
	}
	return e.settle(ctx, *rec, fixture, now)
}

func (e *Engine) settle(ctx context.Context, rec models.EvaluationRecord, fixture *models.Fixture, now time.Time) (models.EvaluationRecord, error) {
	out, changed, err := Resolve(rec, fixture, now, e.policy)
	if err != nil {
		return rec, err
	}
	if !changed {
		return out, nil
	}
	if err := e.store.UpsertEvaluation(ctx, out); err != nil {
		return rec, fmt.Errorf("failed to record evaluation %s: %w", rec.PickID, err)
	}
	logger.Debug("Settled pick %s (%s %s) as %s: %s", out.PickID, out.Market, out.Selection, out.Outcome, out.Reason)
	return out, nil
}
