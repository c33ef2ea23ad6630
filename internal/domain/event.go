package domain

import "time"

// EventType names a lifecycle event emitted by the trading core.
type EventType string

const (
	EventStatus         EventType = "status"
	EventNewCandidate   EventType = "new_candidate"
	EventTrade          EventType = "trade"
	EventPositionAction EventType = "position_action"
	EventError          EventType = "error"
)

// Event is the only observable surface of the trading core.
type Event struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload"`
}

// CandidateEvent is the payload of EventNewCandidate.
type CandidateEvent struct {
	Token    TokenMetadata `json:"token"`
	Analysis Analysis      `json:"analysis"`
}

// TradeEvent is the payload of EventTrade.
type TradeEvent struct {
	Side   TradeSide   `json:"side"`
	Record TradeRecord `json:"record"`
}

// PositionActionEvent is the payload of EventPositionAction.
type PositionActionEvent struct {
	PositionID string  `json:"position_id"`
	Instrument string  `json:"instrument"`
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	PnL        float64 `json:"pnl"`
	Closed     bool    `json:"closed"`
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Component string    `json:"component"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Message   string    `json:"message"`
}

// StatusEvent is the payload of EventStatus.
type StatusEvent struct {
	State string     `json:"state"`
	Risk  RiskStatus `json:"risk"`
}

// Publisher accepts lifecycle events. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}
