// Package selector filters and ranks market outcomes into pick candidates.
package selector

import (
	"sort"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// pickNamespace scopes name-based candidate ids.
var pickNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("aftr:pick-candidate"))

// Config holds the selection thresholds and caps.
type Config struct {
	// MinProbability applies to outcomes without external odds.
	MinProbability float64 `default:"0.50"`
	// MinEdge applies to outcomes priced by external odds.
	MinEdge              float64 `default:"0.02"`
	MaxPerFixture        int     `default:"3"`
	MaxPerDay            int     `default:"20"`
	ExcludeLowConfidence bool    `default:"false"`
}

// DefaultConfig returns the selection defaults.
func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// FixtureInput is everything the selector needs about one modelled fixture.
// HasStrength is false when either side lacked a qualifying strength estimate.
type FixtureInput struct {
	Fixture       models.Fixture
	Outcomes      []models.MarketOutcome
	HasStrength   bool
	LowConfidence bool
	LambdaHome    float64
	LambdaAway    float64
}

// CandidateID is stable across refresh cycles for the same fixture, market and selection.
func CandidateID(fixtureID, market, selection string) string {
	return uuid.NewSHA1(pickNamespace, []byte(fixtureID+"|"+market+"|"+selection)).String()
}

// Score is the ranking key: edge when odds exist, model probability otherwise.
// Priced and unpriced scores are never compared with each other.
func Score(o models.MarketOutcome) float64 {
	if o.Edge != nil {
		return *o.Edge
	}
	return o.Probability
}

func passes(o models.MarketOutcome, cfg Config) bool {
	if o.Edge != nil {
		return *o.Edge >= cfg.MinEdge
	}
	return o.Probability >= cfg.MinProbability
}

// ForFixture returns at most MaxPerFixture candidates for one fixture, best first.
func ForFixture(in FixtureInput, cfg Config, now time.Time) []models.PickCandidate {
	if !in.HasStrength {
		return nil
	}
	if in.LowConfidence && cfg.ExcludeLowConfidence {
		return nil
	}

	var out []models.PickCandidate
	for _, o := range in.Outcomes {
		if !passes(o, cfg) {
			continue
		}
		out = append(out, models.PickCandidate{
			ID:            CandidateID(in.Fixture.ID, o.Market, o.Selection),
			FixtureID:     in.Fixture.ID,
			League:        in.Fixture.League,
			HomeTeam:      in.Fixture.HomeTeam,
			AwayTeam:      in.Fixture.AwayTeam,
			Kickoff:       in.Fixture.Kickoff,
			MarketOutcome: o,
			Score:         Score(o),
			LowConfidence: in.LowConfidence,
			XGHome:        in.LambdaHome,
			XGAway:        in.LambdaAway,
			XGTotal:       in.LambdaHome + in.LambdaAway,
			GeneratedAt:   now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if cfg.MaxPerFixture > 0 && len(out) > cfg.MaxPerFixture {
		out = out[:cfg.MaxPerFixture]
	}
	return out
}

// ForDay selects candidates for every fixture of a league/day and applies MaxPerDay.
func ForDay(inputs []FixtureInput, cfg Config, now time.Time) []models.PickCandidate {
	var all []models.PickCandidate
	for _, in := range inputs {
		all = append(all, ForFixture(in, cfg, now)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return lessDay(all[i], all[j]) })
	if cfg.MaxPerDay > 0 && len(all) > cfg.MaxPerDay {
		all = all[:cfg.MaxPerDay]
	}
	return all
}

// less ranks priced candidates ahead of unpriced ones. Within each group the
// score compares like with like: edge against edge, probability against probability.
func less(a, b models.PickCandidate) bool {
	if ap, bp := a.Edge != nil, b.Edge != nil; ap != bp {
		return ap
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Market != b.Market {
		return a.Market < b.Market
	}
	return a.Selection < b.Selection
}

func lessDay(a, b models.PickCandidate) bool {
	if less(a, b) || less(b, a) {
		return less(a, b)
	}
	if !a.Kickoff.Equal(b.Kickoff) {
		return a.Kickoff.Before(b.Kickoff)
	}
	return a.FixtureID < b.FixtureID
}
