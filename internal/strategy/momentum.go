package strategy

import (
	"fmt"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// BuyPressureFeature is the analysis feature holding the buy/sell ratio.
const BuyPressureFeature = "buy_pressure"

// Momentum rides early buy pressure and sizes up with the score.
type Momentum struct{}

func (Momentum) Name() string        { return "momentum" }
func (Momentum) Description() string { return "Rides early momentum waves, quick entries and exits" }

func (Momentum) Entry(c Candidate, s Snapshot) Decision {
	a := c.Analysis
	if a.Score < 55 {
		return skip(0.9, fmt.Sprintf("score too low: %.0f", a.Score))
	}
	if s.MaxPositions > 0 && s.OpenPositions >= s.MaxPositions {
		return skip(1, "max positions reached")
	}
	if s.DailyPnL < -0.3 {
		return skip(1, "daily loss limit approaching")
	}
	// Feeds without trade flow carry no buy pressure; the check only applies
	// when the feature is present.
	pressure, known := a.Features[BuyPressureFeature]
	if known && pressure < 1.5 {
		return watch(0.6, fmt.Sprintf("waiting for stronger buy pressure (%.1fx)", pressure))
	}

	amount := 0.05
	switch {
	case a.Score >= 90:
		amount = 0.1
	case a.Score >= 80:
		amount = 0.08
	}
	if s.WinRate < 0.4 {
		amount *= 0.5
	}

	return Decision{
		Action:      domain.RecommendBuy,
		Confidence:  a.Confidence,
		AmountSOL:   amount,
		SlippageBps: 1500,
		StopLossPct: 25,
		Tiers: []domain.TakeProfitTier{
			{Multiplier: 1.5, SellPct: 40},
			{Multiplier: 2.5, SellPct: 40},
			{Multiplier: 5, SellPct: 20},
		},
		Reason: fmt.Sprintf("momentum play: score %.0f", a.Score),
	}
}
