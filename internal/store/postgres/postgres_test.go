package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", Database: "predictex", User: "u", Password: "p"},
			"postgres://u:p@db:5432/predictex?sslmode=disable"},
		{"custom", ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			"postgres://u:p@db:6543/d?sslmode=require"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DSN(tc.cfg))
		})
	}
}

func TestDBErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrNotFound},
		{"unique", &pgconn.PgError{Code: codeUniqueViolation}, domain.ErrAlreadyExists},
		{"negative balance", &pgconn.PgError{Code: codeCheckViolation, ConstraintName: balanceConstraint}, domain.ErrInsufficientBalance},
		{"other check", &pgconn.PgError{Code: codeCheckViolation, ConstraintName: "outcomes_price"}, domain.ErrStore},
		{"serialization", &pgconn.PgError{Code: codeSerializationFailure}, domain.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: codeDeadlockDetected}, domain.ErrConflict},
		{"other", errors.New("connection reset"), domain.ErrStore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, dbErr("op", tc.err), tc.want)
		})
	}
}

// openTestDB connects to PREDICTEX_TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *Transactor {
	t.Helper()
	dsn := os.Getenv("PREDICTEX_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PREDICTEX_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return NewTransactor(c)
}

func seedBinary(t *testing.T, st domain.Stores) (domain.Market, domain.Option) {
	t.Helper()
	ctx := context.Background()
	m := domain.Market{ID: uuid.NewString(), Title: "test", Status: domain.MarketStatusOpen}
	require.NoError(t, st.Markets.Create(ctx, m))
	opt := domain.Option{ID: uuid.NewString(), MarketID: m.ID, Name: "test",
		YesOutcomeID: uuid.NewString(), NoOutcomeID: uuid.NewString()}
	for _, id := range []string{opt.YesOutcomeID, opt.NoOutcomeID} {
		require.NoError(t, st.Outcomes.CreateOutcome(ctx, domain.Outcome{
			ID: id, MarketID: m.ID, Name: id, InitialPrice: 0.5, CurrentPrice: 0.5,
		}))
	}
	require.NoError(t, st.Outcomes.CreateOption(ctx, opt))
	return m, opt
}

func TestStoresIntegration(t *testing.T) {
	tx := openTestDB(t)
	ctx := context.Background()
	st := tx.Stores()
	m, opt := seedBinary(t, st)

	t.Run("set prices checks versions", func(t *testing.T) {
		writes := []domain.PriceWrite{
			{OutcomeID: opt.YesOutcomeID, Price: 0.6, Version: 0},
			{OutcomeID: opt.NoOutcomeID, Price: 0.4, Version: 0},
		}
		require.NoError(t, st.Outcomes.SetPrices(ctx, writes))
		err := st.Outcomes.SetPrices(ctx, writes)
		require.ErrorIs(t, err, domain.ErrConflict)

		yes, err := st.Outcomes.GetByID(ctx, opt.YesOutcomeID)
		require.NoError(t, err)
		assert.Equal(t, 0.6, yes.CurrentPrice)
		assert.EqualValues(t, 1, yes.Version)
	})

	t.Run("rollback", func(t *testing.T) {
		userID := uuid.NewString()
		require.NoError(t, st.Users.Create(ctx, domain.User{ID: userID, Username: userID, Balance: decimal.NewFromInt(10)}))
		boom := errors.New("boom")
		err := tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
			require.NoError(t, s.Users.AdjustBalance(ctx, userID, decimal.NewFromInt(-10)))
			require.NoError(t, s.Positions.Adjust(ctx, userID, m.ID, opt.YesOutcomeID, decimal.NewFromInt(5)))
			return boom
		})
		require.ErrorIs(t, err, boom)

		u, err := st.Users.GetByID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
		p, err := st.Positions.Get(ctx, userID, opt.YesOutcomeID)
		require.NoError(t, err)
		assert.True(t, p.Amount.IsZero())
	})

	t.Run("balance never goes negative", func(t *testing.T) {
		userID := uuid.NewString()
		require.NoError(t, st.Users.Create(ctx, domain.User{ID: userID, Username: userID, Balance: decimal.NewFromInt(10)}))
		err := st.Users.AdjustBalance(ctx, userID, decimal.NewFromInt(-11))
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		u, err := st.Users.GetByID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)), "balance = %s", u.Balance)
	})

	t.Run("concurrent debits are serialised by the user row", func(t *testing.T) {
		userID := uuid.NewString()
		require.NoError(t, st.Users.Create(ctx, domain.User{ID: userID, Username: userID, Balance: decimal.NewFromInt(100)}))
		debit := decimal.NewFromInt(80)

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
					u, err := s.Users.GetForUpdate(ctx, userID)
					if err != nil {
						return err
					}
					if u.Balance.LessThan(debit) {
						return domain.ErrInsufficientBalance
					}
					return s.Users.AdjustBalance(ctx, userID, debit.Neg())
				})
			}()
		}
		wg.Wait()

		var ok, refused int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientBalance):
				refused++
			default:
				require.NoError(t, err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, refused)

		u, err := st.Users.GetByID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(20)), "balance = %s", u.Balance)
	})

	t.Run("resting orders are fifo", func(t *testing.T) {
		var ids []string
		for range 3 {
			o := domain.Order{ID: uuid.NewString(), MarketID: m.ID, UserID: "seller", OutcomeID: opt.YesOutcomeID,
				Side: domain.OrderSideSell, Amount: decimal.NewFromInt(1), Remaining: decimal.NewFromInt(1),
				Price: 0.5, Status: domain.OrderStatusPending}
			require.NoError(t, st.Orders.Create(ctx, o))
			ids = append(ids, o.ID)
		}
		resting, err := st.Orders.ListResting(ctx, m.ID, opt.YesOutcomeID, domain.OrderSideSell, "buyer")
		require.NoError(t, err)
		require.Len(t, resting, 3)
		for i, o := range resting {
			assert.Equal(t, ids[i], o.ID)
		}

		sum, err := st.Orders.SumPendingSells(ctx, "seller", opt.YesOutcomeID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(3)))
	})

	t.Run("resolve once", func(t *testing.T) {
		require.NoError(t, st.Markets.MarkResolved(ctx, m.ID, "Yes", time.Now()))
		err := st.Markets.MarkResolved(ctx, m.ID, "No", time.Now())
		require.ErrorIs(t, err, domain.ErrAlreadyResolved)

		cancelled, err := st.Orders.CancelPending(ctx, m.ID)
		require.NoError(t, err)
		assert.Len(t, cancelled, 3)
	})
}
