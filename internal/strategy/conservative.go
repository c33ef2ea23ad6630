package strategy

import (
	"fmt"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// conservativeMaxPositions caps open positions below the risk limit.
const conservativeMaxPositions = 3

// Conservative only enters high-score, high-confidence tokens from
// established creators.
type Conservative struct{}

func (Conservative) Name() string { return "conservative" }
func (Conservative) Description() string {
	return "High selectivity, thorough due diligence, patient entries"
}

func (Conservative) Entry(c Candidate, s Snapshot) Decision {
	a := c.Analysis
	if a.Score < 75 {
		return skip(0.95, fmt.Sprintf("score %.0f below conservative threshold (75)", a.Score))
	}
	if a.Confidence < 0.7 {
		return watch(0.6, fmt.Sprintf("low confidence: %.0f%%", a.Confidence*100))
	}
	if !c.MintRenounced() {
		return skip(0.95, "mint authority not renounced")
	}
	if age := c.CreatorAgeHours(); age < 24 {
		return skip(0.8, fmt.Sprintf("creator wallet too new: %.1fh", age))
	}
	if rugs := c.CreatorRugs(); rugs > 0 {
		return skip(0.99, fmt.Sprintf("creator has %d previous rugs", rugs))
	}
	limit := conservativeMaxPositions
	if s.MaxPositions > 0 && s.MaxPositions < limit {
		limit = s.MaxPositions
	}
	if s.OpenPositions >= limit {
		return skip(1, "conservative position limit reached")
	}

	amount := 0.03
	switch {
	case a.Score >= 95:
		amount = 0.07
	case a.Score >= 85:
		amount = 0.05
	}
	if s.WinRate < 0.5 {
		amount *= 0.7
	}

	return Decision{
		Action:      domain.RecommendBuy,
		Confidence:  a.Confidence,
		AmountSOL:   amount,
		SlippageBps: 800,
		StopLossPct: 20,
		Tiers: []domain.TakeProfitTier{
			{Multiplier: 2, SellPct: 30},
			{Multiplier: 3, SellPct: 30},
			{Multiplier: 5, SellPct: 25},
			{Multiplier: 10, SellPct: 15},
		},
		Reason: fmt.Sprintf("high conviction: score %.0f, confidence %.0f%%", a.Score, a.Confidence*100),
	}
}
