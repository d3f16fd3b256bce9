// Package poisson builds scoreline distributions from two independent
// Poisson goal processes.
package poisson

import (
	"fmt"
	"math"

	"github.com/creasty/defaults"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// Config bounds the scoreline grid.
type Config struct {
	// MaxGoals is the per-side grid cap. Expected goals above it are rejected.
	MaxGoals int `default:"15"`
	// Tolerance is the allowed deviation of total grid mass from 1.
	Tolerance float64 `default:"1e-6"`
}

// DefaultConfig returns a 15-goal grid with a 1e-6 mass tolerance.
func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// Distribution is the joint probability of every (home, away) scoreline up to the cap.
type Distribution struct {
	FixtureID    string
	LambdaHome   float64
	LambdaAway   float64
	MaxGoals     int
	Grid         [][]float64
	Renormalized bool
}

// P returns the probability of the scoreline h-a, or 0 outside the grid.
func (d *Distribution) P(h, a int) float64 {
	if h < 0 || a < 0 || h > d.MaxGoals || a > d.MaxGoals {
		return 0
	}
	return d.Grid[h][a]
}

// Total returns the mass held by the grid.
func (d *Distribution) Total() float64 {
	var sum float64
	for h := range d.Grid {
		for _, p := range d.Grid[h] {
			sum += p
		}
	}
	return sum
}

// Each calls fn for every cell in row-major order.
func (d *Distribution) Each(fn func(h, a int, p float64)) {
	for h := range d.Grid {
		for a, p := range d.Grid[h] {
			fn(h, a, p)
		}
	}
}

// Model turns team strengths into scoreline distributions.
type Model struct {
	config Config
}

// New validates config and returns a Model.
func New(config Config) (*Model, error) {
	if config.MaxGoals < 1 {
		return nil, fmt.Errorf("max goals must be at least 1, got %d", config.MaxGoals)
	}
	if config.Tolerance <= 0 || config.Tolerance >= 0.01 {
		return nil, fmt.Errorf("tolerance must be in (0, 0.01), got %g", config.Tolerance)
	}
	return &Model{config: config}, nil
}

// Lambdas returns expected goals for each side:
// home = avgHome * home.attack * away.defense, away = avgAway * away.attack * home.defense.
func Lambdas(avg models.LeagueAverages, home, away models.RoleStrength) (float64, float64) {
	return avg.Home * home.Attack * away.Defense, avg.Away * away.Attack * home.Defense
}

// Distribution computes the scoreline grid for the given expected goals.
// The grid is renormalized only when truncation leaves it short of 1 by more than the tolerance.
func (m *Model) Distribution(fixtureID string, lambdaHome, lambdaAway float64) (*Distribution, error) {
	if err := m.checkLambda(fixtureID, "home", lambdaHome); err != nil {
		return nil, err
	}
	if err := m.checkLambda(fixtureID, "away", lambdaAway); err != nil {
		return nil, err
	}

	n := m.config.MaxGoals
	ph := pmf(lambdaHome, n)
	pa := pmf(lambdaAway, n)

	grid := make([][]float64, n+1)
	var total float64
	for h := 0; h <= n; h++ {
		grid[h] = make([]float64, n+1)
		for a := 0; a <= n; a++ {
			grid[h][a] = ph[h] * pa[a]
			total += grid[h][a]
		}
	}

	d := &Distribution{
		FixtureID:  fixtureID,
		LambdaHome: lambdaHome,
		LambdaAway: lambdaAway,
		MaxGoals:   n,
		Grid:       grid,
	}
	if total < 1-m.config.Tolerance {
		for h := range grid {
			for a := range grid[h] {
				grid[h][a] /= total
			}
		}
		d.Renormalized = true
	}
	return d, nil
}

func (m *Model) checkLambda(fixtureID, side string, lambda float64) error {
	switch {
	case math.IsNaN(lambda) || math.IsInf(lambda, 0):
		return &models.ModelError{FixtureID: fixtureID, Reason: fmt.Sprintf("%s expected goals is not finite", side)}
	case lambda <= 0:
		return &models.ModelError{FixtureID: fixtureID, Reason: fmt.Sprintf("%s expected goals must be positive, got %g", side, lambda)}
	case lambda > float64(m.config.MaxGoals):
		return &models.ModelError{FixtureID: fixtureID, Reason: fmt.Sprintf("%s expected goals %g exceeds grid cap %d", side, lambda, m.config.MaxGoals)}
	}
	return nil
}

// pmf returns P(X=k) for k in [0, n] using the recurrence p(k) = p(k-1) * lambda / k.
func pmf(lambda float64, n int) []float64 {
	p := make([]float64, n+1)
	p[0] = math.Exp(-lambda)
	for k := 1; k <= n; k++ {
		p[k] = p[k-1] * lambda / float64(k)
	}
	return p
}
