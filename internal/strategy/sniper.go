package strategy

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// sniperMaxAge is the oldest token the sniper still enters.
const sniperMaxAge = 30 * time.Second

// Sniper enters fresh tokens fast with a small fixed size, wide slippage and
// a short ladder.
type Sniper struct{}

func (Sniper) Name() string        { return "sniper" }
func (Sniper) Description() string { return "Fast entry on new tokens, quick profits, tight stops" }

func (Sniper) Entry(c Candidate, s Snapshot) Decision {
	if c.Analysis.Score < 40 {
		return skip(0.95, "failed basic safety checks")
	}
	if s.ConsecutiveLosses >= 3 {
		return skip(0.8, fmt.Sprintf("cooling off after %d losses", s.ConsecutiveLosses))
	}
	age := c.Age(s.Now)
	if age > sniperMaxAge {
		return skip(0.7, fmt.Sprintf("token too old for snipe (%s)", age.Round(time.Second)))
	}
	return Decision{
		Action:      domain.RecommendBuy,
		Confidence:  0.6,
		AmountSOL:   0.03,
		SlippageBps: 2000,
		StopLossPct: 30,
		Tiers: []domain.TakeProfitTier{
			{Multiplier: 2, SellPct: 50},
			{Multiplier: 4, SellPct: 50},
		},
		Reason: fmt.Sprintf("quick snipe: %dms old, score %.0f", age.Milliseconds(), c.Analysis.Score),
	}
}
