package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pricing"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

const testMarketMaker = "mm-0000"

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	require.TestingT
}

type harness struct {
	store      *memory.Store
	orders     *OrderService
	resolution *ResolutionService
	positions  *PositionService
	markets    *MarketService
}

func newHarness(t tb, synthetic bool) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	locks := memory.NewLockManager()
	impact := pricing.NewImpact(pricing.DefaultParams(), pricing.Fixed(0.5))
	prices := NewPriceService(impact, nil, logger)
	events := NewPublisher(nil, store.Stores().Audit, nil, logger)
	cfg := EngineConfig{
		MarketMakerID:      testMarketMaker,
		SyntheticLiquidity: synthetic,
		LockTTL:            5 * time.Second,
		LockWait:           5 * time.Second,
	}
	positions := NewPositionService(store, logger)
	return &harness{
		store:      store,
		orders:     NewOrderService(store, locks, prices, impact, events, cfg, logger),
		resolution: NewResolutionService(store, locks, positions, events, cfg, logger),
		positions:  positions,
		markets:    NewMarketService(store, prices, events, logger),
	}
}

// binaryMarket seeds market m with option opt whose legs are yes and no.
func (h *harness) binaryMarket(t tb, m, opt, yes, no string, yesPrice float64) {
	t.Helper()
	ctx := context.Background()
	st := h.store.Stores()
	if _, err := st.Markets.GetByID(ctx, m); err != nil {
		require.NoError(t, st.Markets.Create(ctx, domain.Market{ID: m, Title: m, Status: domain.MarketStatusOpen}))
	}
	require.NoError(t, st.Outcomes.CreateOutcome(ctx, domain.Outcome{ID: yes, MarketID: m, Name: "Yes", InitialPrice: yesPrice, CurrentPrice: yesPrice}))
	require.NoError(t, st.Outcomes.CreateOutcome(ctx, domain.Outcome{ID: no, MarketID: m, Name: "No", InitialPrice: 1 - yesPrice, CurrentPrice: 1 - yesPrice}))
	require.NoError(t, st.Outcomes.CreateOption(ctx, domain.Option{ID: opt, MarketID: m, Name: opt, YesOutcomeID: yes, NoOutcomeID: no}))
}

func (h *harness) user(t tb, id string, balance int64) {
	t.Helper()
	require.NoError(t, h.store.Stores().Users.Create(context.Background(), domain.User{ID: id, Username: id, Balance: decimal.NewFromInt(balance)}))
}

func (h *harness) grant(t tb, userID, marketID, outcomeID string, amount int64) {
	t.Helper()
	require.NoError(t, h.store.Stores().Positions.Adjust(context.Background(), userID, marketID, outcomeID, decimal.NewFromInt(amount)))
}

func (h *harness) balance(t tb, userID string) decimal.Decimal {
	t.Helper()
	u, err := h.store.Stores().Users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func (h *harness) position(t tb, userID, outcomeID string) decimal.Decimal {
	t.Helper()
	p, err := h.store.Stores().Positions.Get(context.Background(), userID, outcomeID)
	require.NoError(t, err)
	return p.Amount
}

func (h *harness) price(t tb, outcomeID string) float64 {
	t.Helper()
	o, err := h.store.Stores().Outcomes.GetByID(context.Background(), outcomeID)
	require.NoError(t, err)
	return o.CurrentPrice
}

func (h *harness) buy(userID, marketID, outcomeID string, amount int64) (OrderResult, error) {
	return h.submit(userID, marketID, outcomeID, amount, domain.OrderSideBuy)
}

func (h *harness) sell(userID, marketID, outcomeID string, amount int64) (OrderResult, error) {
	return h.submit(userID, marketID, outcomeID, amount, domain.OrderSideSell)
}

func (h *harness) submit(userID, marketID, outcomeID string, amount int64, side domain.OrderSide) (OrderResult, error) {
	return h.orders.SubmitOrder(context.Background(), OrderRequest{
		UserID:    userID,
		MarketID:  marketID,
		OutcomeID: outcomeID,
		Amount:    decimal.NewFromInt(amount),
		Side:      side,
	})
}

// assertDec reports whether got equals want as a decimal, ignoring scale.
func assertDec(t tb, want, got decimal.Decimal, msgAndArgs ...any) bool {
	t.Helper()
	if want.Equal(got) {
		return true
	}
	return assert.Fail(t, fmt.Sprintf("decimal mismatch: want %s, got %s", want, got), msgAndArgs...)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func sumTrades(trades []domain.Trade) decimal.Decimal {
	total := decimal.Zero
	for _, tr := range trades {
		total = total.Add(tr.Amount)
	}
	return total
}
