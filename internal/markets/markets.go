// Package markets maps scoreline distributions onto betting market selections.
package markets

import (
	"fmt"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
	"github.com/Agustinjoel/aftr-mvp/internal/poisson"
)

// Kind identifies a supported market. The set is closed: every Kind listed
// in Kinds has a selection mapping in Select.
type Kind string

const (
	MatchResult      Kind = "1X2"
	OverUnder15      Kind = "OU_1.5"
	OverUnder25      Kind = "OU_2.5"
	OverUnder35      Kind = "OU_3.5"
	BothTeamsToScore Kind = "BTTS"
	DoubleChance1X   Kind = "DC_1X"
	DoubleChanceX2   Kind = "DC_X2"
	DoubleChance12   Kind = "DC_12"
)

// Selection labels.
const (
	Home  = "HOME"
	Draw  = "DRAW"
	Away  = "AWAY"
	Over  = "OVER"
	Under = "UNDER"
	Yes   = "YES"
	No    = "NO"
)

// Kinds lists every supported market in evaluation order.
var Kinds = []Kind{
	MatchResult, OverUnder15, OverUnder25, OverUnder35, BothTeamsToScore,
	DoubleChance1X, DoubleChanceX2, DoubleChance12,
}

var totalLines = map[Kind]float64{
	OverUnder15: 1.5,
	OverUnder25: 2.5,
	OverUnder35: 3.5,
}

// Parse resolves a market type string into a Kind.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unsupported market %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case MatchResult, OverUnder15, OverUnder25, OverUnder35, BothTeamsToScore,
		DoubleChance1X, DoubleChanceX2, DoubleChance12:
		return true
	}
	return false
}

// Selections returns the mutually exclusive selections of the market.
func (k Kind) Selections() []string {
	switch k {
	case MatchResult:
		return []string{Home, Draw, Away}
	case OverUnder15, OverUnder25, OverUnder35:
		return []string{Over, Under}
	case BothTeamsToScore, DoubleChance1X, DoubleChanceX2, DoubleChance12:
		return []string{Yes, No}
	}
	return nil
}

// Select maps a scoreline to the winning selection of the market.
func (k Kind) Select(home, away int) string {
	switch k {
	case MatchResult:
		switch {
		case home > away:
			return Home
		case home == away:
			return Draw
		default:
			return Away
		}
	case OverUnder15, OverUnder25, OverUnder35:
		if float64(home+away) > totalLines[k] {
			return Over
		}
		return Under
	case BothTeamsToScore:
		return yesNo(home > 0 && away > 0)
	case DoubleChance1X:
		return yesNo(home >= away)
	case DoubleChanceX2:
		return yesNo(home <= away)
	case DoubleChance12:
		return yesNo(home != away)
	}
	return ""
}

func yesNo(ok bool) string {
	if ok {
		return Yes
	}
	return No
}

func (k Kind) hasSelection(selection string) bool {
	for _, s := range k.Selections() {
		if s == selection {
			return true
		}
	}
	return false
}

// Evaluate returns one outcome per (market, selection) in Kinds order.
// odds is keyed by models.SelectionKey; entries with odds <= 1 are ignored.
// With devig set, a fully priced market has its implied probabilities
// normalized to sum to 1.
func Evaluate(d *poisson.Distribution, odds map[string]float64, devig bool) []models.MarketOutcome {
	var out []models.MarketOutcome
	for _, k := range Kinds {
		probs := make(map[string]float64, 3)
		d.Each(func(h, a int, p float64) {
			probs[k.Select(h, a)] += p
		})

		implied := impliedProbabilities(k, odds, devig)
		for _, sel := range k.Selections() {
			p := probs[sel]
			o := models.MarketOutcome{
				Market:      string(k),
				Selection:   sel,
				Probability: p,
				FairOdds:    FairOdds(p),
			}
			if ip, ok := implied[sel]; ok {
				edge := p - ip
				o.Implied = &ip
				o.Edge = &edge
			}
			out = append(out, o)
		}
	}
	return out
}

func impliedProbabilities(k Kind, odds map[string]float64, devig bool) map[string]float64 {
	implied := make(map[string]float64, 3)
	var overround float64
	for _, sel := range k.Selections() {
		o, ok := odds[models.SelectionKey(string(k), sel)]
		if !ok || o <= 1 {
			continue
		}
		implied[sel] = 1 / o
		overround += 1 / o
	}
	if devig && len(implied) == len(k.Selections()) && overround > 0 {
		for sel, p := range implied {
			implied[sel] = p / overround
		}
	}
	return implied
}

// FairOdds is the decimal price implied by probability p, or 0 when p is 0.
func FairOdds(p float64) float64 {
	if p <= 0 {
		return 0
	}
	return 1 / p
}

// Settle reports whether selection won given the final score.
func Settle(market, selection string, score models.Score) (bool, error) {
	k, err := Parse(market)
	if err != nil {
		return false, err
	}
	if !k.hasSelection(selection) {
		return false, fmt.Errorf("market %s has no selection %q", market, selection)
	}
	return k.Select(score.Home, score.Away) == selection, nil
}
