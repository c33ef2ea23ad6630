package domain

import "time"

// TradeSide is the direction of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// TradeStatus is the lifecycle of a trade record.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeConfirmed TradeStatus = "confirmed"
	TradeFailed    TradeStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TradeStatus) Terminal() bool {
	return s == TradeConfirmed || s == TradeFailed
}

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindDuplicate         ErrorKind = "duplicate"
	ErrorKindStale             ErrorKind = "stale"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindExhausted         ErrorKind = "retries_exhausted"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindPersistence       ErrorKind = "persistence"
)

// Fatal reports whether a failure of this kind must not be retried.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorKindInsufficientFunds, ErrorKindDuplicate, ErrorKindStale, ErrorKindTimeout, ErrorKindCancelled:
		return true
	}
	return false
}

// TradeRecord is the persisted audit trail of one logical buy or sell.
// Once Status is terminal the record is never modified again.
type TradeRecord struct {
	ID              string      `json:"id"`
	Side            TradeSide   `json:"side"`
	AccountID       string      `json:"account_id"`
	Instrument      string      `json:"instrument"`
	PositionID      string      `json:"position_id,omitempty"`
	RequestedAmount float64     `json:"requested_amount"`
	SlippageBps     int         `json:"slippage_bps"`
	Attempts        int         `json:"attempts"`
	Status          TradeStatus `json:"status"`
	FillPrice       float64     `json:"fill_price"`
	FilledQuantity  float64     `json:"filled_quantity"`
	AmountOut       float64     `json:"amount_out"`
	TxID            string      `json:"tx_id,omitempty"`
	ErrorKind       ErrorKind   `json:"error_kind,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty"`
}

// TradeResult is returned to callers of the execution channel.
// For buys FilledQuantity is tokens received and AmountOut equals it; for
// sells AmountOut is the capital received.
type TradeResult struct {
	TradeID        string
	Success        bool
	FilledQuantity float64
	FillPrice      float64
	AmountIn       float64
	AmountOut      float64
	TxID           string
	Attempts       int
	ErrorKind      ErrorKind
	Err            error
}

// OrderIntent is what the venue needs to build a submission.
type OrderIntent struct {
	Side        TradeSide
	Owner       string
	Instrument  string
	Amount      float64
	SlippageBps int
}

// PreparedOrder is an unsigned submission plus the venue's quoted fill.
type PreparedOrder struct {
	Payload   []byte
	InAmount  float64
	OutAmount float64
	Price     float64
	ExpiresAt time.Time
}

// BundleState is the confirmation state of a bundle submission.
type BundleState string

const (
	BundlePending BundleState = "pending"
	BundleLanded  BundleState = "landed"
	BundleFailed  BundleState = "failed"
)

// BundleStatus is one poll result for a submitted bundle.
type BundleStatus struct {
	State BundleState
	TxID  string
	Err   string
}
