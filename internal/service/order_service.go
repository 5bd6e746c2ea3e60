package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pricing"
)

// EngineConfig holds the matching engine settings.
type EngineConfig struct {
	// MarketMakerID is the reserved identity of the synthetic counterparty.
	MarketMakerID string
	// SyntheticLiquidity makes the market maker absorb any unmatched
	// remainder. When false the remainder rests as a pending order.
	SyntheticLiquidity bool
	LockTTL            time.Duration
	LockWait           time.Duration
}

// OrderRequest is a request to buy or sell shares of one outcome.
type OrderRequest struct {
	UserID    string
	MarketID  string
	OutcomeID string
	Amount    decimal.Decimal
	Side      domain.OrderSide
}

// OrderResult is the outcome of SubmitOrder. Order carries the final state
// of the submitted order.
type OrderResult struct {
	Order           domain.Order
	Trades          []domain.Trade
	RemainingAmount decimal.Decimal
}

// OrderService is the matching engine.
type OrderService struct {
	tx     domain.Transactor
	locks  domain.LockManager
	prices *PriceService
	impact *pricing.Impact
	events *Publisher
	cfg    EngineConfig
	logger *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	tx domain.Transactor,
	locks domain.LockManager,
	prices *PriceService,
	impact *pricing.Impact,
	events *Publisher,
	cfg EngineConfig,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		tx:     tx,
		locks:  locks,
		prices: prices,
		impact: impact,
		events: events,
		cfg:    cfg,
		logger: logger,
	}
}

// SubmitOrder validates req, matches it against resting opposite-side orders
// oldest first and hands any remainder to the market maker. Everything runs
// in one transaction while the option lock is held; on error nothing is
// written.
func (s *OrderService) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := s.validate(req); err != nil {
		return OrderResult{}, err
	}

	opt, err := s.tx.Stores().Outcomes.FindOption(ctx, req.MarketID, req.OutcomeID)
	if err != nil {
		return OrderResult{}, lookup(err, "outcome %s is not part of market %s", req.OutcomeID, req.MarketID)
	}

	unlock, err := acquireWait(ctx, s.locks, optionLockKey(opt.ID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return OrderResult{}, fmt.Errorf("order_service: %w", err)
	}
	defer unlock()

	var (
		res   OrderResult
		ticks []domain.PriceTick
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		var err error
		res, ticks, err = s.match(ctx, st, req)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "order_service: invariant violation",
				slog.String("market_id", req.MarketID),
				slog.String("outcome_id", req.OutcomeID),
				slog.String("error", err.Error()),
			)
			s.events.Alert(ctx, "invariant_violation", "Invariant violation",
				fmt.Sprintf("market %s outcome %s: %v", req.MarketID, req.OutcomeID, err))
		}
		return OrderResult{}, fmt.Errorf("order_service: submit: %w", err)
	}

	s.prices.Publish(ctx, ticks)
	s.events.Emit(ctx, domain.ChannelOrders, "order_submitted", req.MarketID, res.Order)
	if len(res.Trades) > 0 {
		s.events.Emit(ctx, domain.ChannelTrades, "trades", req.MarketID, res.Trades)
	}
	if len(ticks) > 0 {
		s.events.Emit(ctx, domain.ChannelPrices, "prices", req.MarketID, latestTicks(ticks))
	}
	s.events.Audit(ctx, "order_submitted", map[string]any{
		"order_id":  res.Order.ID,
		"user_id":   req.UserID,
		"market_id": req.MarketID,
		"side":      string(req.Side),
		"amount":    req.Amount.String(),
		"trades":    len(res.Trades),
		"status":    string(res.Order.Status),
	})

	s.logger.InfoContext(ctx, "order_service: order matched",
		slog.String("order_id", res.Order.ID),
		slog.String("market_id", req.MarketID),
		slog.String("outcome_id", req.OutcomeID),
		slog.String("side", string(req.Side)),
		slog.String("amount", req.Amount.String()),
		slog.Int("trades", len(res.Trades)),
		slog.String("remaining", res.RemainingAmount.String()),
	)

	return res, nil
}

func (s *OrderService) validate(req OrderRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: missing user", domain.ErrUnauthenticated)
	case req.UserID == s.cfg.MarketMakerID:
		return validationf("reserved user id")
	case req.MarketID == "":
		return validationf("market_id is required")
	case req.OutcomeID == "":
		return validationf("outcome_id is required")
	case !req.Amount.IsPositive():
		return validationf("amount must be positive")
	case !req.Side.Valid():
		return validationf("unknown order type %q", req.Side)
	}
	return nil
}

// match performs the whole order pipeline against st.
func (s *OrderService) match(ctx context.Context, st domain.Stores, req OrderRequest) (OrderResult, []domain.PriceTick, error) {
	market, err := st.Markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return OrderResult{}, nil, lookup(err, "market %s not found", req.MarketID)
	}
	if !market.Open() {
		return OrderResult{}, nil, validationf("market %s is %s", market.ID, market.Status)
	}
	user, err := st.Users.GetForUpdate(ctx, req.UserID)
	if err != nil {
		return OrderResult{}, nil, lookup(err, "user %s not found", req.UserID)
	}
	outcome, err := st.Outcomes.GetByID(ctx, req.OutcomeID)
	if err != nil {
		return OrderResult{}, nil, lookup(err, "outcome %s not found", req.OutcomeID)
	}

	price := outcome.CurrentPrice
	cost := req.Amount.Mul(decimal.NewFromFloat(price))

	switch req.Side {
	case domain.OrderSideSell:
		pos, err := st.Positions.Get(ctx, req.UserID, req.OutcomeID)
		if err != nil {
			return OrderResult{}, nil, err
		}
		committed, err := st.Orders.SumPendingSells(ctx, req.UserID, req.OutcomeID)
		if err != nil {
			return OrderResult{}, nil, err
		}
		if available := pos.Amount.Sub(committed); available.LessThan(req.Amount) {
			return OrderResult{}, nil, fmt.Errorf("%w: have %s, need %s",
				domain.ErrInsufficientShares, available, req.Amount)
		}
	case domain.OrderSideBuy:
		if user.Balance.LessThan(cost) {
			return OrderResult{}, nil, fmt.Errorf("%w: have %s, need %s",
				domain.ErrInsufficientBalance, user.Balance, cost)
		}
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        uuid.NewString(),
		MarketID:  req.MarketID,
		UserID:    req.UserID,
		OutcomeID: req.OutcomeID,
		Side:      req.Side,
		Amount:    req.Amount,
		Remaining: req.Amount,
		Price:     price,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.Orders.Create(ctx, order); err != nil {
		return OrderResult{}, nil, err
	}
	if req.Side == domain.OrderSideBuy {
		if err := st.Users.AdjustBalance(ctx, req.UserID, cost.Neg()); err != nil {
			return OrderResult{}, nil, err
		}
	}

	var (
		trades []domain.Trade
		ticks  []domain.PriceTick
	)
	remaining := req.Amount

	resting, err := st.Orders.ListResting(ctx, req.MarketID, req.OutcomeID, req.Side.Opposite(), s.cfg.MarketMakerID)
	if err != nil {
		return OrderResult{}, nil, err
	}
	for _, r := range resting {
		if !remaining.IsPositive() {
			break
		}
		qty := decimal.Min(remaining, r.Remaining)
		trade := newTrade(order, r, qty, r.Price, false)
		if err := st.Trades.Insert(ctx, trade); err != nil {
			return OrderResult{}, nil, err
		}

		left := r.Remaining.Sub(qty)
		status := domain.OrderStatusPending
		if !left.IsPositive() {
			status = domain.OrderStatusFilled
		}
		if err := st.Orders.UpdateFill(ctx, r.ID, left, status); err != nil {
			return OrderResult{}, nil, err
		}

		applied, err := s.prices.Apply(ctx, st, req.MarketID, req.OutcomeID, r.Price)
		if err != nil {
			return OrderResult{}, nil, err
		}
		ticks = append(ticks, applied...)

		// The resting side settles here; a resting buyer paid when it was placed.
		if r.Side == domain.OrderSideSell {
			if err := st.Users.AdjustBalance(ctx, r.UserID, trade.Notional()); err != nil {
				return OrderResult{}, nil, err
			}
		}
		if err := st.Positions.Adjust(ctx, r.UserID, r.MarketID, r.OutcomeID, signed(r.Side, qty)); err != nil {
			return OrderResult{}, nil, err
		}

		trades = append(trades, trade)
		remaining = remaining.Sub(qty)
	}

	if remaining.IsPositive() && s.cfg.SyntheticLiquidity {
		current, err := st.Outcomes.GetByID(ctx, req.OutcomeID)
		if err != nil {
			return OrderResult{}, nil, err
		}
		mmPrice := s.impact.PriceWithImpact(current.CurrentPrice, remaining.InexactFloat64(), req.Side)
		mm := domain.Order{
			ID:        uuid.NewString(),
			MarketID:  req.MarketID,
			UserID:    s.cfg.MarketMakerID,
			OutcomeID: req.OutcomeID,
			Side:      req.Side.Opposite(),
			Amount:    remaining,
			Remaining: decimal.Zero,
			Price:     mmPrice,
			Status:    domain.OrderStatusFilled,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Orders.Create(ctx, mm); err != nil {
			return OrderResult{}, nil, err
		}
		trade := newTrade(order, mm, remaining, mmPrice, true)
		if err := st.Trades.Insert(ctx, trade); err != nil {
			return OrderResult{}, nil, err
		}
		applied, err := s.prices.Apply(ctx, st, req.MarketID, req.OutcomeID, mmPrice)
		if err != nil {
			return OrderResult{}, nil, err
		}
		ticks = append(ticks, applied...)
		trades = append(trades, trade)
		remaining = decimal.Zero
	}

	order.Remaining = remaining
	if !remaining.IsPositive() {
		order.Status = domain.OrderStatusFilled
	}
	if err := st.Orders.UpdateFill(ctx, order.ID, order.Remaining, order.Status); err != nil {
		return OrderResult{}, nil, err
	}

	if filled := order.Filled(); filled.IsPositive() {
		if err := st.Positions.Adjust(ctx, req.UserID, req.MarketID, req.OutcomeID, signed(req.Side, filled)); err != nil {
			return OrderResult{}, nil, err
		}
	}

	if req.Side == domain.OrderSideSell {
		proceeds := decimal.Zero
		for _, t := range trades {
			proceeds = proceeds.Add(t.Notional())
		}
		if proceeds.IsPositive() {
			if err := st.Users.AdjustBalance(ctx, req.UserID, proceeds); err != nil {
				return OrderResult{}, nil, err
			}
		}
	}

	return OrderResult{Order: order, Trades: trades, RemainingAmount: remaining}, ticks, nil
}

// CancelOrder cancels a pending order owned by userID and releases the
// unfilled part of a buy reservation.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	existing, err := s.tx.Stores().Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: %w", orderID, err)
	}
	opt, err := s.tx.Stores().Outcomes.FindOption(ctx, existing.MarketID, existing.OutcomeID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: %w", orderID, err)
	}
	unlock, err := acquireWait(ctx, s.locks, optionLockKey(opt.ID), s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: %w", err)
	}
	defer unlock()

	var cancelled domain.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		o, err := st.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, orderID)
		}
		if o.Status != domain.OrderStatusPending {
			return validationf("order %s is %s", orderID, o.Status)
		}
		if err := st.Orders.UpdateFill(ctx, o.ID, o.Remaining, domain.OrderStatusCancelled); err != nil {
			return err
		}
		if err := refund(ctx, st, o); err != nil {
			return err
		}
		o.Status = domain.OrderStatusCancelled
		cancelled = o
		return nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: %w", orderID, err)
	}

	s.events.Emit(ctx, domain.ChannelOrders, "order_cancelled", cancelled.MarketID, cancelled)
	s.events.Audit(ctx, "order_cancelled", map[string]any{
		"order_id": cancelled.ID,
		"user_id":  userID,
	})
	s.logger.InfoContext(ctx, "order_service: order cancelled", slog.String("order_id", orderID))

	return cancelled, nil
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.tx.Stores().Orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// ListByMarket returns orders for a specific market, newest first.
func (s *OrderService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.tx.Stores().Orders.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketID, err)
	}
	return orders, nil
}

// ListByUser returns a user's orders, newest first.
func (s *OrderService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.tx.Stores().Orders.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by user %q: %w", userID, err)
	}
	return orders, nil
}

// ListTrades returns executed trades for a market, newest first.
func (s *OrderService) ListTrades(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.tx.Stores().Trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list trades %q: %w", marketID, err)
	}
	return trades, nil
}

func newTrade(taker, maker domain.Order, qty decimal.Decimal, price float64, marketMaker bool) domain.Trade {
	t := domain.Trade{
		ID:          uuid.NewString(),
		MarketID:    taker.MarketID,
		OutcomeID:   taker.OutcomeID,
		Amount:      qty,
		Price:       price,
		MarketMaker: marketMaker,
		CreatedAt:   time.Now().UTC(),
	}
	if taker.Side == domain.OrderSideBuy {
		t.BuyerOrderID, t.SellerOrderID = taker.ID, maker.ID
	} else {
		t.BuyerOrderID, t.SellerOrderID = maker.ID, taker.ID
	}
	return t
}

// signed returns qty for a buyer and -qty for a seller.
func signed(side domain.OrderSide, qty decimal.Decimal) decimal.Decimal {
	if side == domain.OrderSideSell {
		return qty.Neg()
	}
	return qty
}

// refund returns the reservation held by the unfilled part of a buy order.
func refund(ctx context.Context, st domain.Stores, o domain.Order) error {
	if o.Side != domain.OrderSideBuy || !o.Remaining.IsPositive() {
		return nil
	}
	amount := o.Remaining.Mul(decimal.NewFromFloat(o.Price))
	return st.Users.AdjustBalance(ctx, o.UserID, amount)
}
