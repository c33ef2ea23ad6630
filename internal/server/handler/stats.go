package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// StatsReader reads daily counters. It is implemented by the postgres daily
// stats store.
type StatsReader interface {
	ListRecent(ctx context.Context, days int) ([]domain.DailyStats, error)
}

// StatsHandler serves daily stats.
type StatsHandler struct {
	stats  StatsReader
	logger *slog.Logger
}

func NewStatsHandler(stats StatsReader, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, logger: logger}
}

type statsResponse struct {
	Days   []domain.DailyStats `json:"days"`
	Totals domain.DailyStats   `json:"totals"`
}

// GetStats returns the last N days of counters (default 7, max 90) and
// their sum.
// GET /api/stats?days=7
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days query parameter")
			return
		}
		days = min(n, 90)
	}

	rows, err := h.stats.ListRecent(r.Context(), days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if rows == nil {
		rows = []domain.DailyStats{}
	}
	writeJSON(w, http.StatusOK, statsResponse{Days: rows, Totals: sumStats(rows)})
}

func sumStats(rows []domain.DailyStats) domain.DailyStats {
	var t domain.DailyStats
	for _, d := range rows {
		t.TokensAnalyzed += d.TokensAnalyzed
		t.TokensSkipped += d.TokensSkipped
		t.RugsAvoided += d.RugsAvoided
		t.TokensSniped += d.TokensSniped
		t.TotalVolume += d.TotalVolume
		t.WinningTrades += d.WinningTrades
		t.LosingTrades += d.LosingTrades
		t.RealizedPnL += d.RealizedPnL
	}
	return t
}
