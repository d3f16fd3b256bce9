package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// StatsSummary aggregates settled picks with flat one-unit stakes at fair odds.
type StatsSummary struct {
	League   string          `json:"league"`
	Total    int             `json:"total_picks"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	Voids    int             `json:"voids"`
	Pending  int             `json:"pending"`
	WinRate  decimal.Decimal `json:"winrate"`
	NetUnits decimal.Decimal `json:"net_units"`
	ROI      decimal.Decimal `json:"roi"`
}

var hundred = decimal.NewFromInt(100)

// Summarize computes win rate, net units and ROI (both in percent, two decimals).
// A win pays fair odds minus the stake; fair odds fall back to 1/probability.
func Summarize(league string, recs []models.EvaluationRecord) StatsSummary {
	sum := StatsSummary{League: league, Total: len(recs)}
	net := decimal.Zero
	one := decimal.NewFromInt(1)
	for _, r := range recs {
		switch r.Outcome {
		case models.OutcomeWin:
			sum.Wins++
			odds := r.FairOdds
			if odds <= 1 && r.Probability > 0 {
				odds = 1 / r.Probability
			}
			if odds > 1 {
				net = net.Add(decimal.NewFromFloat(odds).Sub(one))
			}
		case models.OutcomeLoss:
			sum.Losses++
			net = net.Sub(one)
		case models.OutcomeVoid:
			sum.Voids++
		default:
			sum.Pending++
		}
	}

	decided := sum.Wins + sum.Losses
	sum.NetUnits = net.Round(2)
	if decided > 0 {
		d := decimal.NewFromInt(int64(decided))
		sum.WinRate = decimal.NewFromInt(int64(sum.Wins)).Div(d).Mul(hundred).Round(2)
		sum.ROI = net.Div(d).Mul(hundred).Round(2)
	}
	return sum
}

// StatsSummary loads a league's evaluations and summarizes them.
func (s *Storage) StatsSummary(ctx context.Context, league string) (StatsSummary, error) {
	recs, err := s.ListEvaluations(ctx, league)
	if err != nil {
		return StatsSummary{}, err
	}
	return Summarize(league, recs), nil
}
