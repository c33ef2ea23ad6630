package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// AuditStore appends to audit_log and derives closed-position results from
// the position_exit entries written by the position book.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry; detail is stored as jsonb.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// closedResultsSQL sums every exit of a position and keeps positions whose
// last exit closed them. Cost basis is recovered as amount_out minus pnl.
const closedResultsSQL = `
	SELECT SUM((detail->>'pnl')::double precision),
	       SUM((detail->>'amount_out')::double precision - (detail->>'pnl')::double precision)
	FROM audit_log
	WHERE event = 'position_exit'
	GROUP BY detail->>'position_id'
	HAVING bool_or(COALESCE((detail->>'closed')::boolean, FALSE))
	ORDER BY MAX(created_at) DESC
	LIMIT $1`

// ClosedResults returns realized results of fully closed positions, newest
// first. limit <= 0 returns all of them.
func (s *AuditStore) ClosedResults(ctx context.Context, limit int) ([]domain.ClosedResult, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	// LIMIT NULL means no limit.
	rows, err := s.pool.Query(ctx, closedResultsSQL, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: closed results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClosedResult, error) {
		var r domain.ClosedResult
		err := row.Scan(&r.PnL, &r.CostBasis)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: closed results: %w", err)
	}
	return results, nil
}
