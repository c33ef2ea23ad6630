package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account_id, instrument, name, symbol,
	entry_price, cost_basis, initial_quantity, remaining_quantity,
	highest_price, mark_price, realized_pnl, stop_loss_pct,
	tiers, triggered_tiers, status, opened_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var tiers, triggered []byte

	if err := row.Scan(
		&p.ID, &p.AccountID, &p.Instrument, &p.Name, &p.Symbol,
		&p.EntryPrice, &p.CostBasis, &p.InitialQuantity, &p.RemainingQuantity,
		&p.HighestPrice, &p.MarkPrice, &p.RealizedPnL, &p.StopLossPct,
		&tiers, &triggered, &status, &p.OpenedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Position{}, err
	}
	if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
		return domain.Position{}, fmt.Errorf("decode tiers: %w", err)
	}
	if err := json.Unmarshal(triggered, &p.TriggeredTiers); err != nil {
		return domain.Position{}, fmt.Errorf("decode triggered tiers: %w", err)
	}
	if p.TriggeredTiers == nil {
		p.TriggeredTiers = domain.TierSet{}
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func encodeTiers(p domain.Position) (tiers, triggered []byte, err error) {
	if p.Tiers == nil {
		p.Tiers = []domain.TakeProfitTier{}
	}
	if tiers, err = json.Marshal(p.Tiers); err != nil {
		return nil, nil, err
	}
	if triggered, err = json.Marshal(p.TriggeredTiers); err != nil {
		return nil, nil, err
	}
	return tiers, triggered, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tiers, triggered, err := encodeTiers(p)
	if err != nil {
		return fmt.Errorf("postgres: encode position %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, account_id, instrument, name, symbol,
			entry_price, cost_basis, initial_quantity, remaining_quantity,
			highest_price, mark_price, realized_pnl, stop_loss_pct,
			tiers, triggered_tiers, status, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $18
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.AccountID, p.Instrument, p.Name, p.Symbol,
		p.EntryPrice, p.CostBasis, p.InitialQuantity, p.RemainingQuantity,
		p.HighestPrice, p.MarkPrice, p.RealizedPnL, p.StopLossPct,
		tiers, triggered, string(p.Status), p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tiers, triggered, err := encodeTiers(p)
	if err != nil {
		return fmt.Errorf("postgres: encode position %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			cost_basis         = $2,
			remaining_quantity = $3,
			highest_price      = $4,
			mark_price         = $5,
			realized_pnl       = $6,
			tiers              = $7,
			triggered_tiers    = $8,
			status             = $9,
			updated_at         = $10
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CostBasis, p.RemainingQuantity,
		p.HighestPrice, p.MarkPrice, p.RealizedPnL,
		tiers, triggered, string(p.Status), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a position.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every stored position for an account, oldest first. An
// empty accountID lists all accounts.
func (s *PositionStore) ListOpen(ctx context.Context, accountID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = $1`
		args = append(args, accountID)
	}
	query += ` ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}
