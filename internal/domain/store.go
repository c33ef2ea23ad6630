package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists open positions. Closed positions are deleted; their
// results survive in the trade records.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, accountID string) ([]Position, error)
}

// TradeStore persists trade records.
type TradeStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	// RecordAttempt bumps the attempt counter of a pending record.
	RecordAttempt(ctx context.Context, id string, attempts int) error
	// Finalize writes the terminal state. It returns ErrTerminalTrade if the
	// record is no longer pending.
	Finalize(ctx context.Context, rec TradeRecord) error
	GetByID(ctx context.Context, id string) (TradeRecord, error)
	List(ctx context.Context, accountID string, opts ListOpts) ([]TradeRecord, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// StateStore is a small key/value store for JSON blobs.
type StateStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

// DailyStatsStore accumulates per-day counters.
type DailyStatsStore interface {
	Increment(ctx context.Context, date, stat string, delta float64) error
	Get(ctx context.Context, date string) (DailyStats, error)
	ListRecent(ctx context.Context, days int) ([]DailyStats, error)
}

// BlacklistEntry is a banned mint or creator address.
type BlacklistEntry struct {
	Address   string    `json:"address"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// BlacklistStore persists banned addresses.
type BlacklistStore interface {
	Add(ctx context.Context, entry BlacklistEntry) error
	Contains(ctx context.Context, address string) (bool, error)
	List(ctx context.Context) ([]BlacklistEntry, error)
}

// OutcomeStore persists one TokenOutcome per candidate.
type OutcomeStore interface {
	Upsert(ctx context.Context, outcome TokenOutcome) error
	ListBefore(ctx context.Context, before time.Time) ([]TokenOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ClosedResult is the realized outcome of a fully closed position.
type ClosedResult struct {
	PnL       float64
	CostBasis float64
}

// ResultStore reports realized outcomes for win-rate and sizing estimates.
type ResultStore interface {
	ClosedResults(ctx context.Context, limit int) ([]ClosedResult, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
