package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, side, account_id, instrument, position_id,
	requested_amount, slippage_bps, attempts, status,
	fill_price, filled_quantity, amount_out, tx_id,
	error_kind, error, created_at, confirmed_at`

func scanTrade(row pgx.Row) (domain.TradeRecord, error) {
	var t domain.TradeRecord
	var side, status, kind string
	if err := row.Scan(
		&t.ID, &side, &t.AccountID, &t.Instrument, &t.PositionID,
		&t.RequestedAmount, &t.SlippageBps, &t.Attempts, &status,
		&t.FillPrice, &t.FilledQuantity, &t.AmountOut, &t.TxID,
		&kind, &t.Error, &t.CreatedAt, &t.ConfirmedAt,
	); err != nil {
		return domain.TradeRecord{}, err
	}
	t.Side = domain.TradeSide(side)
	t.Status = domain.TradeStatus(status)
	t.ErrorKind = domain.ErrorKind(kind)
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a new trade record.
func (s *TradeStore) Create(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, side, account_id, instrument, position_id,
			requested_amount, slippage_bps, attempts, status,
			fill_price, filled_quantity, amount_out, tx_id,
			error_kind, error, created_at, confirmed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Side), t.AccountID, t.Instrument, t.PositionID,
		t.RequestedAmount, t.SlippageBps, t.Attempts, string(t.Status),
		t.FillPrice, t.FilledQuantity, t.AmountOut, t.TxID,
		string(t.ErrorKind), t.Error, t.CreatedAt, t.ConfirmedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordAttempt updates the attempt counter of a pending trade.
func (s *TradeStore) RecordAttempt(ctx context.Context, id string, attempts int) error {
	const query = `UPDATE trades SET attempts = $2 WHERE id = $1 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, query, id, attempts)
	if err != nil {
		return fmt.Errorf("postgres: record attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, "record attempt", id)
	}
	return nil
}

// Finalize writes the terminal state of a pending trade. Terminal records
// are never rewritten.
func (s *TradeStore) Finalize(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		UPDATE trades SET
			position_id     = $2,
			attempts        = $3,
			status          = $4,
			fill_price      = $5,
			filled_quantity = $6,
			amount_out      = $7,
			tx_id           = $8,
			error_kind      = $9,
			error           = $10,
			confirmed_at    = $11
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.Attempts, string(t.Status),
		t.FillPrice, t.FilledQuantity, t.AmountOut, t.TxID,
		string(t.ErrorKind), t.Error, t.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, "finalize trade", t.ID)
	}
	return nil
}

// explainMiss distinguishes a missing record from a terminal one after a
// guarded update touched no rows.
func (s *TradeStore) explainMiss(ctx context.Context, op, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM trades WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrNotFound)
	case err != nil:
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	default:
		return fmt.Errorf("postgres: %s %s (%s): %w", op, id, status, domain.ErrTerminalTrade)
	}
}

// GetByID retrieves a single trade record.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// List returns trades newest first with optional account and time filters.
func (s *TradeStore) List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if accountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, accountID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListTerminalBefore returns confirmed and failed trades created before the
// given time, oldest first.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status IN ('confirmed', 'failed') AND created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteTerminalBefore removes confirmed and failed trades created before the
// given time and returns the number of rows deleted. Pending trades are kept.
func (s *TradeStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM trades WHERE status IN ('confirmed', 'failed') AND created_at < $1`
	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
