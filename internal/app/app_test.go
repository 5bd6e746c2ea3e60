package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/config"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Auth.Provider = "static"
	cfg.Auth.StaticTokens = map[string]string{
		"tok-a": "11111111-1111-1111-1111-111111111111",
		"tok-b": "22222222-2222-2222-2222-222222222222",
	}
	return &cfg
}

func TestWireInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.IsType(t, &memory.Store{}, deps.Tx)
	assert.IsType(t, &memory.Bus{}, deps.Bus)
	assert.IsType(t, &memory.LockManager{}, deps.Locks)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Registrar, "static tokens cannot register agents")
	assert.NotNil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)

	userID, err := deps.Authn.Authenticate(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", userID)
}

func TestWireWorkerSkipsIdentity(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.Mode = "worker"

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	assert.Nil(t, deps.Authn)
}

func TestSeedStaticUsersIsIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.Engine.StartingBalance = 250
	a := New(cfg, logger)

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	svc := a.newServices(deps)
	ctx := context.Background()
	require.NoError(t, a.seedStaticUsers(ctx, svc))
	require.NoError(t, a.seedStaticUsers(ctx, svc))

	for _, id := range cfg.Auth.StaticTokens {
		u, err := deps.Tx.Stores().Users.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(250).Equal(u.Balance), "balance %s", u.Balance)
	}
}
