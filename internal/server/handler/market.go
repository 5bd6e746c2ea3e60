package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (service.MarketView, error)
	GetView(ctx context.Context, id string) (service.MarketView, error)
	ListOpen(ctx context.Context) ([]domain.Market, error)
	Summary(ctx context.Context, id string) (service.MarketSummary, error)
	PriceHistory(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PricePoint, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type createMarketRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ClosesAt    *time.Time `json:"closes_at"`
	OptionName  string     `json:"option_name"`
	Candidates  []string   `json:"candidates"`
}

// CreateMarket opens a binary or multi-option market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var body createMarketRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	view, err := h.markets.CreateMarket(r.Context(), service.CreateMarketRequest{
		Title:       body.Title,
		Description: body.Description,
		ClosesAt:    body.ClosesAt,
		OptionName:  body.OptionName,
		Candidates:  body.Candidates,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ListMarkets returns the open markets.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListOpen(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetMarket returns a market with its options and live prices.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.markets.GetView(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSummary returns trading statistics for a market.
// GET /api/markets/{id}/summary
func (h *MarketHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.markets.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "market summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetPriceHistory returns recorded outcome prices, oldest first.
// GET /api/markets/{id}/price-history?since=...&until=...
func (h *MarketHandler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.markets.PriceHistory(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "price history", err)
		return
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}
