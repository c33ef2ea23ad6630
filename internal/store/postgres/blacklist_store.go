package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// BlacklistStore implements domain.BlacklistStore using PostgreSQL.
type BlacklistStore struct {
	pool *pgxpool.Pool
}

// NewBlacklistStore creates a new BlacklistStore backed by the given connection pool.
func NewBlacklistStore(pool *pgxpool.Pool) *BlacklistStore {
	return &BlacklistStore{pool: pool}
}

// Add bans an address. Re-adding an address keeps the first entry.
func (s *BlacklistStore) Add(ctx context.Context, e domain.BlacklistEntry) error {
	const query = `
		INSERT INTO blacklist (address, kind, reason, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (address) DO NOTHING`

	var createdAt any
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, query, e.Address, e.Kind, e.Reason, createdAt); err != nil {
		return fmt.Errorf("postgres: blacklist %s: %w", e.Address, err)
	}
	return nil
}

// Contains reports whether address is banned.
func (s *BlacklistStore) Contains(ctx context.Context, address string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blacklist WHERE address = $1)`, address,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: blacklist lookup %s: %w", address, err)
	}
	return ok, nil
}

// List returns every banned address, oldest first.
func (s *BlacklistStore) List(ctx context.Context) ([]domain.BlacklistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, kind, reason, created_at FROM blacklist ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blacklist: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		if err := rows.Scan(&e.Address, &e.Kind, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan blacklist entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list blacklist rows: %w", err)
	}
	return out, nil
}
