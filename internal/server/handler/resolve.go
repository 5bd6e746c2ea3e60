package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/service"
)

// ResolutionService settles markets.
type ResolutionService interface {
	Resolve(ctx context.Context, marketID, winningOutcomeID string) (service.Resolution, error)
}

// ResolveHandler serves the resolution endpoint.
type ResolveHandler struct {
	resolver ResolutionService
	logger   *slog.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(resolver ResolutionService, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, logger: logger}
}

type resolveRequest struct {
	MarketID  string `json:"market_id"`
	OutcomeID string `json:"outcome_id"`
}

type resolveResponse struct {
	Success           bool                       `json:"success"`
	MarketID          string                     `json:"marketId"`
	WinningOutcome    string                     `json:"winningOutcome"`
	WinningOutcomeID  string                     `json:"winningOutcomeId"`
	WinningOutcomeIDs []string                   `json:"winningOutcomeIds"`
	LosingOutcomeIDs  []string                   `json:"losingOutcomeIds"`
	Payouts           map[string]decimal.Decimal `json:"payouts"`
	CancelledOrders   int                        `json:"cancelledOrders"`
	ResolvedAt        time.Time                  `json:"resolvedAt"`
}

// Resolve settles a market in favour of one outcome.
// POST /api/resolve
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var body resolveRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}

	res, err := h.resolver.Resolve(r.Context(), body.MarketID, body.OutcomeID)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: market resolved",
		slog.String("market_id", res.MarketID),
		slog.String("resolved_by", userID),
	)

	payouts := res.Payouts
	if payouts == nil {
		payouts = map[string]decimal.Decimal{}
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Success:           true,
		MarketID:          res.MarketID,
		WinningOutcome:    res.WinningOutcomeName,
		WinningOutcomeID:  res.WinningOutcomeID,
		WinningOutcomeIDs: res.WinningOutcomeIDs,
		LosingOutcomeIDs:  res.LosingOutcomeIDs,
		Payouts:           payouts,
		CancelledOrders:   res.CancelledOrders,
		ResolvedAt:        res.ResolvedAt,
	})
}
