package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/auth"
	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/pricing"
	"github.com/alanyoungcy/predictex/internal/server/handler"
	"github.com/alanyoungcy/predictex/internal/service"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

const (
	marketMaker = "d6caee95-1d81-46b4-9528-de16990fc169"
	alice       = "11111111-1111-1111-1111-111111111111"
	bob         = "22222222-2222-2222-2222-222222222222"
	agentKey    = "agent-secret"
	cronKey     = "cron-secret"
)

type testEnv struct {
	t     *testing.T
	srv   *httptest.Server
	store *memory.Store
	ran   map[string]int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	locks := memory.NewLockManager()
	impact := pricing.NewImpact(pricing.DefaultParams(), pricing.Fixed(0.5))
	prices := service.NewPriceService(impact, nil, logger)
	events := service.NewPublisher(memory.NewBus(), store.Stores().Audit, nil, logger)
	engine := service.EngineConfig{
		MarketMakerID:      marketMaker,
		SyntheticLiquidity: true,
		LockTTL:            time.Second,
		LockWait:           time.Second,
	}
	positions := service.NewPositionService(store, logger)
	orders := service.NewOrderService(store, locks, prices, impact, events, engine, logger)
	resolution := service.NewResolutionService(store, locks, positions, events, engine, logger)
	markets := service.NewMarketService(store, prices, events, logger)
	accounts := service.NewAccountService(store, nil, decimal.NewFromInt(1_000_000), "agents.test", events, logger)

	env := &testEnv{t: t, store: store, ran: map[string]int{}}
	handlers := Handlers{
		Health:    handler.NewHealthHandler("full", map[string]handler.Check{"store": func(context.Context) error { return nil }}, logger),
		Markets:   handler.NewMarketHandler(markets, logger),
		Orders:    handler.NewOrderHandler(orders, logger),
		Positions: handler.NewPositionHandler(positions, logger),
		Resolve:   handler.NewResolveHandler(resolution, logger),
		Agents:    handler.NewAgentHandler(accounts, logger),
		Pipeline: handler.NewPipelineHandler(map[string]handler.Job{
			"update-positions": func(context.Context, time.Time) { env.ran["update-positions"]++ },
		}, logger),
	}
	authn := auth.NewStatic(map[string]string{
		"alice-token": alice,
		"bob-token":   bob,
		"mm-token":    marketMaker,
	})
	s := NewServer(Config{
		ReservedIDs: []string{marketMaker},
		AgentKey:    agentKey,
		CronKey:     cronKey,
	}, handlers, nil, authn, nil, logger)

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)

	ctx := context.Background()
	for _, id := range []string{alice, bob} {
		require.NoError(t, store.Stores().Users.Create(ctx, domain.User{ID: id, Username: id, Balance: decimal.NewFromInt(1000)}))
	}
	return env
}

func (e *testEnv) do(method, path, token string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

// createMarket opens a binary market and returns its id and yes outcome id.
func (e *testEnv) createMarket() (string, string, string) {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/api/markets", "alice-token", map[string]any{
		"title": "Will it rain tomorrow?",
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode, body)
	market := body["market"].(map[string]any)
	opt := body["options"].([]any)[0].(map[string]any)
	yes := opt["yes"].(map[string]any)
	no := opt["no"].(map[string]any)
	return market["id"].(string), yes["id"].(string), no["id"].(string)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"missing", "", "missing authentication token"},
		{"unknown", "nope", "invalid authentication token"},
		{"market maker", "mm-token", "reserved identity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(http.MethodPost, "/api/orders", tt.token, map[string]any{})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.want, body["error"])
			assert.Equal(t, "unauthenticated", body["kind"])
		})
	}
}

func TestPlaceOrderAgainstMarketMaker(t *testing.T) {
	env := newTestEnv(t)
	marketID, yesID, noID := env.createMarket()

	resp, body := env.do(http.MethodPost, "/api/orders", "alice-token", map[string]any{
		"market_id":  marketID,
		"outcome_id": yesID,
		"amount":     10,
		"type":       "buying",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	order := body["order"].(map[string]any)
	assert.Equal(t, "filled", order["status"])
	assert.Equal(t, alice, order["user_id"])
	assert.Len(t, body["trades"], 1)
	assert.Equal(t, "0", body["remainingAmount"])

	// The yes price moved up and the pair still sums to one.
	resp, body = env.do(http.MethodGet, "/api/markets/"+marketID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	opt := body["options"].([]any)[0].(map[string]any)
	yes := opt["yes"].(map[string]any)["current_price"].(float64)
	no := opt["no"].(map[string]any)["current_price"].(float64)
	assert.Greater(t, yes, 0.5)
	assert.InDelta(t, 1.0, yes+no, 1e-9)

	resp, body = env.do(http.MethodGet, "/api/markets/"+marketID+"/trades", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["trades"], 1)

	resp, body = env.do(http.MethodGet, "/api/positions", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, yesID, positions[0].(map[string]any)["outcome_id"])
	assert.NotEqual(t, noID, positions[0].(map[string]any)["outcome_id"])
	assert.NotNil(t, body["user"])
}

func TestPlaceOrderErrors(t *testing.T) {
	env := newTestEnv(t)
	marketID, yesID, _ := env.createMarket()

	tests := []struct {
		name   string
		body   map[string]any
		status int
		kind   string
	}{
		{"bad side", map[string]any{"market_id": marketID, "outcome_id": yesID, "amount": 1, "type": "hold"}, http.StatusBadRequest, "validation"},
		{"zero amount", map[string]any{"market_id": marketID, "outcome_id": yesID, "amount": 0, "type": "buying"}, http.StatusBadRequest, "validation"},
		{"insufficient balance", map[string]any{"market_id": marketID, "outcome_id": yesID, "amount": 100000, "type": "buying"}, http.StatusBadRequest, "validation"},
		{"no shares", map[string]any{"market_id": marketID, "outcome_id": yesID, "amount": 5, "type": "selling"}, http.StatusBadRequest, "validation"},
		{"unknown field", map[string]any{"market_id": marketID, "price": 1}, http.StatusBadRequest, "validation"},
		{"unknown outcome", map[string]any{"market_id": marketID, "outcome_id": "missing", "amount": 1, "type": "buying"}, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(http.MethodPost, "/api/orders", "bob-token", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Nil(t, body["retryable"])
		})
	}
}

func TestStoreFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	marketID, yesID, _ := env.createMarket()
	env.store.InjectFault(func(string) error { return errors.New("connection reset") })

	resp, body := env.do(http.MethodPost, "/api/orders", "alice-token", map[string]any{
		"market_id": marketID, "outcome_id": yesID, "amount": 1, "type": "buying",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "store", body["kind"])
	assert.Equal(t, true, body["retryable"])
	assert.NotContains(t, body["error"], "connection reset")
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	marketID, yesID, noID := env.createMarket()

	resp, _ := env.do(http.MethodPost, "/api/orders", "alice-token", map[string]any{
		"market_id": marketID, "outcome_id": yesID, "amount": 10, "type": "buying",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/api/resolve", "bob-token", map[string]any{
		"market_id": marketID, "outcome_id": yesID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Yes", body["winningOutcome"])
	assert.Equal(t, []any{yesID}, body["winningOutcomeIds"])
	assert.Equal(t, []any{noID}, body["losingOutcomeIds"])
	assert.Equal(t, "10", body["payouts"].(map[string]any)[alice])

	resp, body = env.do(http.MethodPost, "/api/resolve", "bob-token", map[string]any{
		"market_id": marketID, "outcome_id": yesID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["kind"])
}

func TestMarketNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/markets/missing", "/api/markets/missing/summary"} {
		resp, body := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "not_found", body["kind"], path)
	}
}

func TestGetOrderIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	marketID, yesID, _ := env.createMarket()

	resp, body := env.do(http.MethodPost, "/api/orders", "alice-token", map[string]any{
		"market_id":  marketID,
		"outcome_id": yesID,
		"amount":     5,
		"type":       "buying",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	id := body["order"].(map[string]any)["id"].(string)

	resp, body = env.do(http.MethodGet, "/api/orders/"+id, "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, id, body["order"].(map[string]any)["id"])

	resp, body = env.do(http.MethodGet, "/api/orders/"+id, "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestCancelUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodDelete, "/api/orders/does-not-exist", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestKeyGuardedRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(http.MethodPost, "/api/agents/auth", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/agents/auth", nil)
	require.NoError(t, err)
	req.Header.Set("X-Agent-Key", agentKey)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	// No identity provider is configured in this environment.
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	resp, _ = env.do(http.MethodPost, "/api/cron/update-positions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.ran["update-positions"])

	for _, job := range []string{"update-positions", "nope"} {
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/cron/"+job, strings.NewReader(""))
		require.NoError(t, err)
		req.Header.Set("X-Cron-Key", cronKey)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		if job == "nope" {
			assert.Equal(t, http.StatusNotFound, res.StatusCode)
		} else {
			assert.Equal(t, http.StatusOK, res.StatusCode)
		}
	}
	assert.Equal(t, 1, env.ran["update-positions"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Agent-Key")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Retry-After")
}
