package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PauseReason records why trading is halted.
type PauseReason string

const (
	PauseNone        PauseReason = ""
	PauseManual      PauseReason = "manual"
	PauseLossStreak  PauseReason = "loss_streak"
	PausePersistence PauseReason = "persistence"
)

// RiskState is the persisted form of the risk ledger.
type RiskState struct {
	Day               string          `json:"day"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	Paused            bool            `json:"is_paused"`
	PauseReason       PauseReason     `json:"pause_reason,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RiskLimits are the configured caps enforced by the ledger.
type RiskLimits struct {
	MaxPositions     int     `json:"max_positions"`
	MaxDailyLoss     float64 `json:"max_daily_loss"`
	MaxPerInstrument float64 `json:"max_per_instrument"`
	PauseAfterLosses int     `json:"pause_after_losses"`
	MinReserve       float64 `json:"min_reserve"`
}

// RiskDecision is the answer to an entry request. SuggestedCapital is zero
// when the requested amount may be used unchanged.
type RiskDecision struct {
	Allowed          bool    `json:"allowed"`
	Reason           string  `json:"reason,omitempty"`
	SuggestedCapital float64 `json:"suggested_capital,omitempty"`
}

// RiskStatus is a read-only snapshot of the ledger.
type RiskStatus struct {
	Day               string      `json:"day"`
	Paused            bool        `json:"is_paused"`
	PauseReason       PauseReason `json:"pause_reason,omitempty"`
	ConsecutiveLosses int         `json:"consecutive_losses"`
	OpenPositions     int         `json:"open_positions"`
	DailyPnL          float64     `json:"daily_pnl"`
	Wins              int         `json:"wins"`
	Losses            int         `json:"losses"`
	Limits            RiskLimits  `json:"limits"`
}
