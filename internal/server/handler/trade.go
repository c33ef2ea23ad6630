package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// TradeLister lists trade records. It is implemented by the postgres trade
// store.
type TradeLister interface {
	List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.TradeRecord, error)
}

// TradeHandler serves trade history.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListTrades returns trade records, newest first.
// GET /api/trades?account=...&limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account := r.URL.Query().Get("account")

	trades, err := h.trades.List(r.Context(), account, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Limit: opts.Limit, Offset: opts.Offset})
}
