package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Stores().Users.Create(ctx, domain.User{ID: "u1", Balance: decimal.NewFromInt(100)}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		if err := st.Users.AdjustBalance(ctx, "u1", decimal.NewFromInt(-40)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := s.Stores().Users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(100)), "balance = %s", u.Balance)
}

func TestAdjustBalanceRefusesOverdraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	users := s.Stores().Users
	require.NoError(t, users.Create(ctx, domain.User{ID: "u1", Balance: decimal.NewFromInt(10)}))

	err := users.AdjustBalance(ctx, "u1", decimal.NewFromInt(-11))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.NoError(t, users.AdjustBalance(ctx, "u1", decimal.NewFromInt(-10)))

	u, err := users.GetForUpdate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero(), "balance = %s", u.Balance)
}

func TestWithinTxCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Stores().Users.Create(ctx, domain.User{ID: "u1"}))

	err := s.WithinTx(ctx, func(ctx context.Context, st domain.Stores) error {
		return st.Positions.Adjust(ctx, "u1", "m1", "o1", decimal.NewFromInt(5))
	})
	require.NoError(t, err)

	pos, err := s.Stores().Positions.Get(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(5)), "amount = %s", pos.Amount)
}

func TestInjectFault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	s.InjectFault(func(op string) error {
		if op == "insert trade" {
			return errors.New("disk full")
		}
		return nil
	})

	err := s.Stores().Trades.Insert(ctx, domain.Trade{ID: "t1"})
	require.ErrorIs(t, err, domain.ErrStore)
	assert.True(t, domain.Retryable(err))
}

func TestSetPricesVersionCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	oc := s.Stores().Outcomes
	require.NoError(t, oc.CreateOutcome(ctx, domain.Outcome{ID: "yes", CurrentPrice: 0.5}))
	require.NoError(t, oc.CreateOutcome(ctx, domain.Outcome{ID: "no", CurrentPrice: 0.5}))

	require.NoError(t, oc.SetPrices(ctx, []domain.PriceWrite{
		{OutcomeID: "yes", Price: 0.6, Version: 0},
		{OutcomeID: "no", Price: 0.4, Version: 0},
	}))

	err := oc.SetPrices(ctx, []domain.PriceWrite{
		{OutcomeID: "yes", Price: 0.7, Version: 1},
		{OutcomeID: "no", Price: 0.3, Version: 0},
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	yes, err := oc.GetByID(ctx, "yes")
	require.NoError(t, err)
	no, err := oc.GetByID(ctx, "no")
	require.NoError(t, err)
	assert.Equal(t, 0.6, yes.CurrentPrice)
	assert.Equal(t, 0.4, no.CurrentPrice)
	assert.EqualValues(t, 1, yes.Version)
}

func TestListRestingFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	orders := s.Stores().Orders
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, orders.Create(ctx, domain.Order{
			ID: id, MarketID: "m", OutcomeID: "o", UserID: "u" + id,
			Side: domain.OrderSideSell, Amount: decimal.NewFromInt(1), Remaining: decimal.NewFromInt(1),
			Status: domain.OrderStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, orders.UpdateFill(ctx, "b", decimal.Zero, domain.OrderStatusFilled))

	got, err := orders.ListResting(ctx, "m", "o", domain.OrderSideSell, "uc")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestLockManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "k", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestBus(t *testing.T) {
	t.Parallel()
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "prices")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "prices", []byte("p1")))
	require.NoError(t, b.Publish(ctx, "orders", []byte("ignored")))
	assert.Equal(t, []byte("p1"), <-sub)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "trades", []byte(p)))
	}
	all, err := b.StreamRead(ctx, "trades", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := b.StreamRead(ctx, "trades", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("b"), rest[0].Payload)

	_, err = b.StreamRead(ctx, "trades", "bogus", 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	cancel()
	_, open := <-sub
	assert.False(t, open)
}
