// Package strategy holds the entry strategies consulted by the intake
// pipeline between scoring and the risk gate. A strategy can veto a
// candidate or override the size, slippage, stop loss and take-profit
// ladder of the position it opens. Exits stay with the position evaluator.
package strategy

import (
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Strategy decides whether a scored candidate should be bought.
// Implementations must be safe for concurrent use.
type Strategy interface {
	Name() string
	Description() string
	Entry(c Candidate, s Snapshot) Decision
}

// Candidate is everything known about a token once it has been scored.
type Candidate struct {
	Token    domain.TokenMetadata
	Safety   domain.FilterResult
	Analysis domain.Analysis
}

// Age returns how long ago the token was created, or zero when its creation
// time is unknown.
func (c Candidate) Age(now time.Time) time.Duration {
	if c.Token.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(c.Token.CreatedAt)
}

// MintRenounced prefers the fact resolved by the full safety analysis over
// the feed metadata.
func (c Candidate) MintRenounced() bool {
	if f := c.Safety.Facts; f != nil {
		return f.MintRenounced
	}
	return c.Token.MintAuthorityRenounced
}

// CreatorAgeHours returns the creator wallet age from the safety facts when
// present.
func (c Candidate) CreatorAgeHours() float64 {
	if f := c.Safety.Facts; f != nil {
		return f.CreatorAgeHours
	}
	return c.Token.CreatorAgeHours
}

// CreatorRugs returns the number of earlier rugs attributed to the creator.
func (c Candidate) CreatorRugs() int {
	if f := c.Safety.Facts; f != nil {
		return f.CreatorRugs
	}
	return c.Token.CreatorRugCount
}

// Snapshot is the account state a strategy decides against.
type Snapshot struct {
	Balance           float64
	OpenPositions     int
	MaxPositions      int
	DailyPnL          float64
	WinRate           float64
	ConsecutiveLosses int
	Now               time.Time
}

// Decision is a strategy verdict. Zero-valued overrides leave the configured
// value in place.
type Decision struct {
	Action      domain.Recommendation
	Confidence  float64
	AmountSOL   float64
	SlippageBps int
	StopLossPct float64
	Tiers       []domain.TakeProfitTier
	Reason      string
}

// Buys reports whether the decision approves an entry.
func (d Decision) Buys() bool {
	return d.Action == domain.RecommendBuy
}

func skip(confidence float64, reason string) Decision {
	return Decision{Action: domain.RecommendSkip, Confidence: confidence, Reason: reason}
}

func watch(confidence float64, reason string) Decision {
	return Decision{Action: domain.RecommendWatch, Confidence: confidence, Reason: reason}
}

// Default approves every candidate that reached it and overrides nothing.
type Default struct{}

func (Default) Name() string        { return "default" }
func (Default) Description() string { return "Configured sizing and exits, no extra entry rules" }

func (Default) Entry(c Candidate, _ Snapshot) Decision {
	return Decision{
		Action:     domain.RecommendBuy,
		Confidence: c.Analysis.Confidence,
		Reason:     "configured policy",
	}
}
