package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	ListForUser(ctx context.Context, userID string) ([]domain.Position, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

// PositionHandler serves the caller's holdings.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	User      *domain.User      `json:"user,omitempty"`
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the caller's non-zero positions and, when the
// account exists, its balances.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	positions, err := h.positions.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	resp := listPositionsResponse{Positions: positions}
	user, err := h.positions.GetUser(r.Context(), userID)
	switch domain.KindOf(err) {
	case "":
		resp.User = &user
	case domain.KindNotFound:
	default:
		writeServiceError(w, r, h.logger, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
