package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "open"
	PositionPartiallyClosed PositionStatus = "partially_closed"
	PositionClosed          PositionStatus = "closed"
)

// TakeProfitTier sells SellPct percent of the remaining quantity once the
// price reaches Multiplier times the entry price.
type TakeProfitTier struct {
	Multiplier float64 `json:"multiplier" toml:"multiplier"`
	SellPct    float64 `json:"sell_pct" toml:"sell_pct"`
}

// TierSet is the set of tier indices that have already fired for a position.
type TierSet map[int]struct{}

// Has reports whether tier i has fired.
func (s TierSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Indices returns the triggered tier indices in ascending order.
func (s TierSet) Indices() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// MarshalJSON encodes the set as a sorted list of indices.
func (s TierSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Indices())
}

// UnmarshalJSON decodes a list of indices.
func (s *TierSet) UnmarshalJSON(data []byte) error {
	var idx []int
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	set := make(TierSet, len(idx))
	for _, i := range idx {
		set[i] = struct{}{}
	}
	*s = set
	return nil
}

// Position is an open or partially closed holding in one instrument.
type Position struct {
	ID                string           `json:"id"`
	AccountID         string           `json:"account_id"`
	Instrument        string           `json:"instrument"`
	Name              string           `json:"name"`
	Symbol            string           `json:"symbol"`
	EntryPrice        float64          `json:"entry_price"`
	CostBasis         float64          `json:"cost_basis"`
	InitialQuantity   float64          `json:"initial_quantity"`
	RemainingQuantity float64          `json:"remaining_quantity"`
	HighestPrice      float64          `json:"highest_price"`
	MarkPrice         float64          `json:"mark_price"`
	RealizedPnL       float64          `json:"realized_pnl"`
	StopLossPct       float64          `json:"stop_loss_pct"`
	Tiers             []TakeProfitTier `json:"tiers"`
	TriggeredTiers    TierSet          `json:"triggered_tiers"`
	Status            PositionStatus   `json:"status"`
	OpenedAt          time.Time        `json:"opened_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PnLPct returns the unrealized percentage move of price over the entry price.
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// DrawdownPct returns how far price sits below the highest observed price.
func (p Position) DrawdownPct(price float64) float64 {
	if p.HighestPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - price) / p.HighestPrice * 100
}

// Clone returns a deep copy so callers cannot mutate book-owned state.
func (p Position) Clone() Position {
	c := p
	c.Tiers = slices.Clone(p.Tiers)
	c.TriggeredTiers = make(TierSet, len(p.TriggeredTiers))
	for i := range p.TriggeredTiers {
		c.TriggeredTiers[i] = struct{}{}
	}
	return c
}

// ActionKind is the decision produced by evaluating a position at a price.
type ActionKind string

const (
	ActionHold         ActionKind = "hold"
	ActionStopLoss     ActionKind = "stop_loss"
	ActionTrailingStop ActionKind = "trailing_stop"
	ActionTakeProfit   ActionKind = "take_profit"
	ActionFlatten      ActionKind = "flatten"
)

// Action describes what to do with a position. TierIndex is -1 unless Kind
// is ActionTakeProfit.
type Action struct {
	Kind      ActionKind `json:"kind"`
	SellPct   float64    `json:"sell_pct"`
	TierIndex int        `json:"tier_index"`
	PnLPct    float64    `json:"pnl_pct"`
	Reason    string     `json:"reason,omitempty"`
}

// IsExit reports whether the action requires a sell.
func (a Action) IsExit() bool {
	return a.Kind != ActionHold && a.SellPct > 0
}
