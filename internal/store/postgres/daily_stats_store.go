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

// statColumns whitelists the counters Increment may touch. The column name
// is interpolated into SQL, so anything outside this set is rejected.
var statColumns = map[string]bool{
	domain.StatTokensAnalyzed: true,
	domain.StatTokensSkipped:  true,
	domain.StatRugsAvoided:    true,
	domain.StatTokensSniped:   true,
	domain.StatTotalVolume:    true,
	domain.StatWinningTrades:  true,
	domain.StatLosingTrades:   true,
	domain.StatRealizedPnL:    true,
}

// DailyStatsStore implements domain.DailyStatsStore using PostgreSQL.
type DailyStatsStore struct {
	pool *pgxpool.Pool
}

// NewDailyStatsStore creates a new DailyStatsStore backed by the given connection pool.
func NewDailyStatsStore(pool *pgxpool.Pool) *DailyStatsStore {
	return &DailyStatsStore{pool: pool}
}

const dailyStatsSelectCols = `to_char(date, 'YYYY-MM-DD'), tokens_analyzed, tokens_skipped,
	rugs_avoided, tokens_sniped, total_volume_sol,
	winning_trades, losing_trades, realized_pnl_sol`

func scanDailyStats(row pgx.Row) (domain.DailyStats, error) {
	var d domain.DailyStats
	err := row.Scan(
		&d.Date, &d.TokensAnalyzed, &d.TokensSkipped,
		&d.RugsAvoided, &d.TokensSniped, &d.TotalVolume,
		&d.WinningTrades, &d.LosingTrades, &d.RealizedPnL,
	)
	return d, err
}

// Increment adds delta to one counter of the given day (YYYY-MM-DD),
// creating the row on first use.
func (s *DailyStatsStore) Increment(ctx context.Context, date, stat string, delta float64) error {
	if !statColumns[stat] {
		return fmt.Errorf("postgres: increment stat %q: unknown counter", stat)
	}
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return fmt.Errorf("postgres: increment stat %s: bad date %q: %w", stat, date, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO daily_stats (date, %[1]s) VALUES ($1, $2::double precision)
		ON CONFLICT (date) DO UPDATE SET %[1]s = daily_stats.%[1]s + EXCLUDED.%[1]s`, stat)
	if _, err := s.pool.Exec(ctx, query, day, delta); err != nil {
		return fmt.Errorf("postgres: increment stat %s on %s: %w", stat, date, err)
	}
	return nil
}

// Get returns the counters for one day.
func (s *DailyStatsStore) Get(ctx context.Context, date string) (domain.DailyStats, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("postgres: get daily stats: bad date %q: %w", date, err)
	}
	query := `SELECT ` + dailyStatsSelectCols + ` FROM daily_stats WHERE date = $1`
	d, err := scanDailyStats(s.pool.QueryRow(ctx, query, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyStats{}, fmt.Errorf("postgres: get daily stats %s: %w", date, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("postgres: get daily stats %s: %w", date, err)
	}
	return d, nil
}

// ListRecent returns up to days rows, newest first.
func (s *DailyStatsStore) ListRecent(ctx context.Context, days int) ([]domain.DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	query := `SELECT ` + dailyStatsSelectCols + ` FROM daily_stats ORDER BY date DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("postgres: list daily stats: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyStats
	for rows.Next() {
		d, err := scanDailyStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan daily stats: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list daily stats rows: %w", err)
	}
	return out, nil
}
