package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

type recordingNotifier struct {
	events []string
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	r.events = append(r.events, event)
	return r.err
}

func TestPublisherEmit(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewBus()
	sub, err := bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)

	p := NewPublisher(bus, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Emit(ctx, domain.ChannelPrices, "prices", "m1", []domain.PriceTick{{OutcomeID: "yes", Price: 0.6}})

	var ev struct {
		Type     string             `json:"type"`
		MarketID string             `json:"market_id"`
		Data     []domain.PriceTick `json:"data"`
	}
	select {
	case msg := <-sub:
		require.NoError(t, json.Unmarshal(msg, &ev))
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	assert.Equal(t, "prices", ev.Type)
	assert.Equal(t, "m1", ev.MarketID)
	assert.Equal(t, []domain.PriceTick{{OutcomeID: "yes", Price: 0.6}}, ev.Data)

	replay, err := bus.StreamRead(ctx, domain.ChannelPrices, "0", 10)
	require.NoError(t, err)
	assert.Len(t, replay, 1)
}

func TestPublisherNilSafe(t *testing.T) {
	t.Parallel()
	var p *Publisher
	p.Emit(context.Background(), domain.ChannelOrders, "x", "m", nil)
	p.Audit(context.Background(), "x", nil)
	p.Alert(context.Background(), "x", "t", "m")
}

func TestResolveAlertsOperators(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	n := &recordingNotifier{err: errors.New("webhook down")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := NewPublisher(nil, nil, n, logger)
	h.resolution = NewResolutionService(h.store, memory.NewLockManager(),
		h.positions, events, EngineConfig{LockTTL: time.Second, LockWait: time.Second}, logger)
	h.binaryMarket(t, "m1", "opt1", "yes", "no", 0.5)

	// A failing notifier must not fail the committed resolution.
	_, err := h.resolution.Resolve(context.Background(), "m1", "yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"market_resolved"}, n.events)
}
