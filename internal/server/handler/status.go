package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// RiskReporter exposes a read-only ledger snapshot. It is implemented by
// service.RiskLedger.
type RiskReporter interface {
	Status() domain.RiskStatus
}

// StatusHandler serves the running mode and per-account risk status.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	ledgers   map[string]RiskReporter
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler. ledgers is keyed by account.
func NewStatusHandler(mode string, startedAt time.Time, ledgers map[string]RiskReporter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, ledgers: ledgers, now: time.Now}
}

type statusResponse struct {
	Mode          string                       `json:"mode"`
	UptimeSeconds int64                        `json:"uptime_seconds"`
	Accounts      map[string]domain.RiskStatus `json:"accounts"`
}

// GetStatus responds with the mode, uptime and each account's ledger.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(max(0, h.now().Sub(h.startedAt).Seconds())),
		Accounts:      make(map[string]domain.RiskStatus, len(h.ledgers)),
	}
	for account, l := range h.ledgers {
		resp.Accounts[account] = l.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}
