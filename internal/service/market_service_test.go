package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pricing"
)

func TestCreateMarketBinary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ctx := context.Background()

	view, err := h.markets.CreateMarket(ctx, CreateMarketRequest{Title: "Rain tomorrow?"})
	require.NoError(t, err)
	require.Len(t, view.Options, 1)
	opt := view.Options[0]
	assert.Equal(t, "Rain tomorrow?", opt.Name)
	assert.Equal(t, 0.5, opt.Yes.CurrentPrice)
	assert.Equal(t, 0.5, opt.No.CurrentPrice)

	got, err := h.markets.GetView(ctx, view.Market.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, got.Market.Status)
	require.Len(t, got.Options, 1)
	assert.Equal(t, opt.YesOutcomeID, got.Options[0].Yes.ID)
	assert.Equal(t, opt.NoOutcomeID, got.Options[0].No.ID)
}

func TestCreateMarketCandidatesStayInBand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ctx := context.Background()

	three, err := h.markets.CreateMarket(ctx, CreateMarketRequest{Title: "Who wins?", Candidates: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.Len(t, three.Options, 3)
	for _, opt := range three.Options {
		assert.InDelta(t, 1.0/3, opt.Yes.CurrentPrice, 1e-12)
		assert.InDelta(t, 2.0/3, opt.No.CurrentPrice, 1e-12)
	}

	names := make([]string, 150)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	wide, err := h.markets.CreateMarket(ctx, CreateMarketRequest{Title: "Crowded field", Candidates: names})
	require.NoError(t, err)
	require.Len(t, wide.Options, 150)
	for _, opt := range wide.Options {
		assert.Equal(t, pricing.DefaultMinPrice, opt.Yes.CurrentPrice)
		assert.InDelta(t, pricing.DefaultMaxPrice, opt.No.CurrentPrice, 1e-12)
	}

	// Every leg has a price, so a buy always costs something.
	h.user(t, "alice", 1000)
	opt := wide.Options[0]
	res, err := h.buy("alice", wide.Market.ID, opt.Yes.ID, 50)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)
	assert.True(t, res.Trades[0].Price > 0, "trade price = %v", res.Trades[0].Price)
	assert.True(t, h.balance(t, "alice").LessThan(decimal.NewFromInt(1000)))
}

func TestCreateMarketValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	tests := []struct {
		name string
		req  CreateMarketRequest
	}{
		{"empty title", CreateMarketRequest{Title: "  "}},
		{"blank candidate", CreateMarketRequest{Title: "x", Candidates: []string{"a", " "}}},
		{"single candidate", CreateMarketRequest{Title: "x", Candidates: []string{"only"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.markets.CreateMarket(context.Background(), tc.req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestMarketSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ctx := context.Background()
	h.binaryMarket(t, "m1", "opt1", "yes", "no", 0.5)
	h.user(t, "alice", 100)
	h.user(t, "bob", 100)

	r1, err := h.buy("alice", "m1", "yes", 10)
	require.NoError(t, err)
	r2, err := h.buy("bob", "m1", "no", 4)
	require.NoError(t, err)

	sum, err := h.markets.Summary(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalTrades)
	assert.Equal(t, 2, sum.UniqueTraders)

	want := r1.Trades[0].Notional().Add(r2.Trades[0].Notional())
	assert.True(t, sum.Volume.Equal(want), "Volume = %s, want %s", sum.Volume, want)
	assert.InDelta(t, want.InexactFloat64()/2, sum.AvgTradeSize.InexactFloat64(), 1e-12)

	_, err = h.markets.Summary(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordAndPrunePrices(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	ctx := context.Background()
	h.binaryMarket(t, "m1", "opt1", "yes", "no", 0.3)
	h.binaryMarket(t, "m2", "opt2", "yes2", "no2", 0.5)
	h.user(t, "u", 0)
	_, err := h.resolution.Resolve(ctx, "m2", "yes2")
	require.NoError(t, err)

	n, err := h.markets.RecordPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only the open market is sampled")

	points, err := h.markets.PriceHistory(ctx, "m1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	byOutcome := map[string]float64{}
	for _, p := range points {
		byOutcome[p.OutcomeID] = p.Price
	}
	assert.Equal(t, 0.3, byOutcome["yes"])
	assert.InDelta(t, 0.7, byOutcome["no"], 1e-12)

	pruned, err := h.markets.PruneHistory(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = h.markets.PruneHistory(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)
}
