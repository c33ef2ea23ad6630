package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// Controller applies operator commands to every account.
type Controller interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Flatten sells every open position and reports how many were closed.
	Flatten(ctx context.Context) (int, error)
	// Remove forgets a position without selling it, for holdings resolved
	// outside the bot. It returns an error wrapping domain.ErrNotFound when
	// no account holds the position.
	Remove(ctx context.Context, positionID string) error
}

// ControlHandler serves the operator control endpoint.
type ControlHandler struct {
	control Controller
	logger  *slog.Logger
}

func NewControlHandler(control Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{control: control, logger: logger}
}

type controlRequest struct {
	Action     string `json:"action"`
	PositionID string `json:"position_id,omitempty"`
}

type controlResponse struct {
	Action     string `json:"action"`
	Closed     int    `json:"closed,omitempty"`
	PositionID string `json:"position_id,omitempty"`
}

// Control runs one of pause, resume, flatten or remove.
// POST /api/control {"action":"pause"}
// POST /api/control {"action":"remove","position_id":"..."}
func (h *ControlHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := controlResponse{Action: req.Action}
	var err error
	switch req.Action {
	case "pause":
		err = h.control.Pause(r.Context())
	case "resume":
		err = h.control.Resume(r.Context())
	case "flatten":
		resp.Closed, err = h.control.Flatten(r.Context())
	case "remove":
		if req.PositionID == "" {
			writeError(w, http.StatusBadRequest, "remove requires position_id")
			return
		}
		resp.PositionID = req.PositionID
		err = h.control.Remove(r.Context(), req.PositionID)
	default:
		writeError(w, http.StatusBadRequest, "action must be pause, resume, flatten or remove")
		return
	}

	h.logger.InfoContext(r.Context(), "control action",
		slog.String("action", req.Action),
		slog.Int("closed", resp.Closed),
		slog.String("position_id", resp.PositionID),
		slog.Bool("ok", err == nil),
	)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.Action+" failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
