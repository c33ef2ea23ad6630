package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// PositionLister lists open positions for an account; an empty account
// lists all. It is implemented by service.PositionBook.
type PositionLister interface {
	List(accountID string) []domain.Position
}

// MarkSource returns the latest cached marks of instruments. It is
// implemented by service.PriceService.
type MarkSource interface {
	Prices(ctx context.Context, instruments []string) (map[string]float64, error)
}

// PositionHandler serves open positions.
type PositionHandler struct {
	positions PositionLister
	marks     MarkSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. marks may be nil, in which
// case positions carry only the monitor's last mark.
func NewPositionHandler(positions PositionLister, marks MarkSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, marks: marks, logger: logger}
}

// positionView is a position with the freshest known mark.
type positionView struct {
	domain.Position
	LivePrice  float64 `json:"live_price,omitempty"`
	LivePnLPct float64 `json:"live_pnl_pct,omitempty"`
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns open positions, oldest first.
// GET /api/positions?account=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.List(r.URL.Query().Get("account"))
	marks := h.liveMarks(r.Context(), positions)

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		v := positionView{Position: p}
		if price, ok := marks[p.Instrument]; ok && price > 0 {
			v.LivePrice = price
			v.LivePnLPct = p.PnLPct(price)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

func (h *PositionHandler) liveMarks(ctx context.Context, positions []domain.Position) map[string]float64 {
	if h.marks == nil || len(positions) == 0 {
		return nil
	}
	instruments := make([]string, 0, len(positions))
	for _, p := range positions {
		instruments = append(instruments, p.Instrument)
	}
	marks, err := h.marks.Prices(ctx, instruments)
	if err != nil {
		h.logger.WarnContext(ctx, "live marks unavailable", slog.String("error", err.Error()))
		return nil
	}
	return marks
}
