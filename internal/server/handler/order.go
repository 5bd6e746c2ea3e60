package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	SubmitOrder(ctx context.Context, req service.OrderRequest) (service.OrderResult, error)
	CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error)
	ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type placeOrderRequest struct {
	MarketID  string           `json:"market_id"`
	OutcomeID string           `json:"outcome_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Type      domain.OrderSide `json:"type"`
}

type placeOrderResponse struct {
	Order           domain.Order    `json:"order"`
	Trades          []domain.Trade  `json:"trades"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
}

// PlaceOrder submits a market order for the caller.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var body placeOrderRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}

	result, err := h.orders.SubmitOrder(r.Context(), service.OrderRequest{
		UserID:    userID,
		MarketID:  body.MarketID,
		OutcomeID: body.OutcomeID,
		Amount:    body.Amount,
		Side:      body.Type,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}

	trades := result.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, placeOrderResponse{
		Order:           result.Order,
		Trades:          trades,
		RemainingAmount: result.RemainingAmount,
	})
}

// CancelOrder cancels one of the caller's pending orders.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	order, err := h.orders.CancelOrder(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// GetOrder returns one of the caller's orders. Orders of other users are
// reported as not found.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err == nil && order.UserID != userID {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// ListMyOrders returns the caller's orders, newest first.
// GET /api/orders
func (h *OrderHandler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListMarketOrders returns a market's orders.
// GET /api/markets/{id}/orders
func (h *OrderHandler) ListMarketOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByMarket(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list market orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListMarketTrades returns a market's trades.
// GET /api/markets/{id}/trades
func (h *OrderHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.orders.ListTrades(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list market trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
