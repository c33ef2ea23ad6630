package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore and
// domain.CreatorHistorySource using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const upsertOutcomeSQL = `
	INSERT INTO token_outcomes (
		mint, account_id, name, symbol, creator, decision, stage, score, reason, rug, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (mint, account_id) DO UPDATE SET
		decision   = EXCLUDED.decision,
		stage      = EXCLUDED.stage,
		score      = EXCLUDED.score,
		reason     = EXCLUDED.reason,
		rug        = token_outcomes.rug OR EXCLUDED.rug,
		created_at = EXCLUDED.created_at`

// creatorHistorySQL counts each mint once however many accounts saw it.
const creatorHistorySQL = `
	SELECT COUNT(DISTINCT mint), COUNT(DISTINCT mint) FILTER (WHERE rug)
	FROM token_outcomes WHERE creator = $1`

// Upsert records the outcome of a mint for one account, replacing an
// earlier one of the same account.
func (s *OutcomeStore) Upsert(ctx context.Context, o domain.TokenOutcome) error {
	_, err := s.pool.Exec(ctx, upsertOutcomeSQL,
		o.Mint, o.AccountID, o.Name, o.Symbol, o.Creator,
		string(o.Decision), string(o.Stage), o.Score, o.Reason, o.Rug, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert outcome %s/%s: %w", o.AccountID, o.Mint, err)
	}
	return nil
}

// ListBefore returns outcomes recorded before the given time, oldest first.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TokenOutcome, error) {
	const query = `
		SELECT mint, account_id, name, symbol, creator, decision, stage, score, reason, rug, created_at
		FROM token_outcomes WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before: %w", err)
	}
	defer rows.Close()

	var out []domain.TokenOutcome
	for rows.Next() {
		var o domain.TokenOutcome
		var decision, stage string
		if err := rows.Scan(
			&o.Mint, &o.AccountID, &o.Name, &o.Symbol, &o.Creator,
			&decision, &stage, &o.Score, &o.Reason, &o.Rug, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		o.Decision = domain.IntakeDecision(decision)
		o.Stage = domain.IntakeStage(stage)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outcomes rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes outcomes recorded before the given time.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM token_outcomes WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreatorHistory counts the distinct tokens seen from creator and how many
// of them were flagged as rugs by any account.
func (s *OutcomeStore) CreatorHistory(ctx context.Context, creator string) (domain.CreatorHistory, error) {
	var h domain.CreatorHistory
	if err := s.pool.QueryRow(ctx, creatorHistorySQL, creator).Scan(&h.Tokens, &h.Rugs); err != nil {
		return domain.CreatorHistory{}, fmt.Errorf("postgres: creator history %s: %w", creator, err)
	}
	return h, nil
}
