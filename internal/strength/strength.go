// Package strength estimates per-team attack and defense coefficients from
// finished fixtures, normalized against league averages per venue role.
package strength

import (
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// ErrNoLeagueAverage is returned when a league has no positive goal average
// for either role; estimation is skipped for that league.
var ErrNoLeagueAverage = errors.New("league average goals per match must be positive")

// Config controls estimation.
type Config struct {
	// MinMatches is the per-role sample below which a role is low-confidence.
	MinMatches int `default:"3"`
	// MinCoefficient keeps coefficients strictly positive for teams that never scored or conceded.
	MinCoefficient float64 `default:"0.05"`
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// Table is the output of one estimation pass for a league.
type Table struct {
	League     string
	Averages   models.LeagueAverages
	Teams      map[string]models.TeamStrength
	ComputedAt time.Time
}

// Lookup returns a team's strength.
func (t *Table) Lookup(team string) (models.TeamStrength, bool) {
	s, ok := t.Teams[team]
	return s, ok
}

// MatchInputs returns the home side's home role and the away side's away role.
// ok is false when either role has no qualifying matches.
func (t *Table) MatchInputs(home, away string) (homeRole, awayRole models.RoleStrength, ok bool) {
	hs, hok := t.Teams[home]
	as, aok := t.Teams[away]
	if !hok || !aok || !hs.Home.Available() || !as.Away.Available() {
		return models.RoleStrength{}, models.RoleStrength{}, false
	}
	return hs.Home, as.Away, true
}

type tally struct {
	homeScored, homeConceded, homeGames int
	awayScored, awayConceded, awayGames int
}

// Estimate computes league averages and team strengths for one league.
// Fixtures that are not finished, lack a score, or belong to another league are ignored.
func Estimate(league string, finished []models.Fixture, cfg Config, now time.Time) (*Table, error) {
	if cfg.MinCoefficient <= 0 {
		return nil, fmt.Errorf("min coefficient must be positive, got %v", cfg.MinCoefficient)
	}

	tallies := make(map[string]*tally)
	get := func(team string) *tally {
		t, ok := tallies[team]
		if !ok {
			t = &tally{}
			tallies[team] = t
		}
		return t
	}

	var homeGoals, awayGoals, games int
	for _, f := range finished {
		if f.League != league || f.Status != models.StatusFinished || f.Score == nil {
			continue
		}
		hg, ag := f.Score.Home, f.Score.Away
		homeGoals += hg
		awayGoals += ag
		games++

		h := get(f.HomeTeam)
		h.homeScored += hg
		h.homeConceded += ag
		h.homeGames++

		a := get(f.AwayTeam)
		a.awayScored += ag
		a.awayConceded += hg
		a.awayGames++
	}

	if games == 0 {
		return nil, fmt.Errorf("%s: no finished matches: %w", league, ErrNoLeagueAverage)
	}
	avg := models.LeagueAverages{
		Home:    float64(homeGoals) / float64(games),
		Away:    float64(awayGoals) / float64(games),
		Matches: games,
	}
	if avg.Home <= 0 || avg.Away <= 0 {
		return nil, fmt.Errorf("%s: home %.3f away %.3f: %w", league, avg.Home, avg.Away, ErrNoLeagueAverage)
	}

	table := &Table{
		League:     league,
		Averages:   avg,
		Teams:      make(map[string]models.TeamStrength, len(tallies)),
		ComputedAt: now,
	}
	for team, t := range tallies {
		s := models.TeamStrength{TeamID: team, LeagueID: league, ComputedAt: now}
		if t.homeGames > 0 {
			n := float64(t.homeGames)
			s.Home = models.RoleStrength{
				Attack:        floor(float64(t.homeScored)/n/avg.Home, cfg.MinCoefficient),
				Defense:       floor(float64(t.homeConceded)/n/avg.Away, cfg.MinCoefficient),
				Matches:       t.homeGames,
				LowConfidence: t.homeGames < cfg.MinMatches,
			}
		}
		if t.awayGames > 0 {
			n := float64(t.awayGames)
			s.Away = models.RoleStrength{
				Attack:        floor(float64(t.awayScored)/n/avg.Away, cfg.MinCoefficient),
				Defense:       floor(float64(t.awayConceded)/n/avg.Home, cfg.MinCoefficient),
				Matches:       t.awayGames,
				LowConfidence: t.awayGames < cfg.MinMatches,
			}
		}
		table.Teams[team] = s
	}
	return table, nil
}

func floor(v, lo float64) float64 {
	if v < lo {
		return lo
	}
	return v
}
