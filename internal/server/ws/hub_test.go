package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictex/internal/domain"
	"github.com/alanyoungcy/predictex/internal/store/memory"
)

func startHub(t *testing.T) (*memory.Bus, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := memory.NewBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello envelope
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return bus, conn
}

func event(t *testing.T, marketID string) []byte {
	t.Helper()
	b, err := json.Marshal(domain.Event{Type: "prices", MarketID: marketID, At: time.Now()})
	require.NoError(t, err)
	return b
}

// readEvent publishes payload until the client receives a frame; the hub
// subscribes to the bus asynchronously after Run starts.
func readEvent(t *testing.T, bus *memory.Bus, conn *websocket.Conn, channel string, payload []byte) envelope {
	t.Helper()
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			_ = bus.Publish(context.Background(), channel, payload)
			select {
			case <-done:
				return
			case <-tick.C:
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got envelope
	require.NoError(t, conn.ReadJSON(&got))
	return got
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus, conn := startHub(t)

	got := readEvent(t, bus, conn, domain.ChannelPrices, event(t, "m1"))
	assert.Equal(t, "event", got.Type)
	assert.Equal(t, domain.ChannelPrices, got.Channel)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(got.Event, &ev))
	assert.Equal(t, "m1", ev.MarketID)
}

func TestHubMarketFilter(t *testing.T) {
	bus, conn := startHub(t)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: Channels}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"trades:m2"}}))

	// Give the read pump time to apply both requests.
	time.Sleep(50 * time.Millisecond)
	_ = bus.Publish(context.Background(), domain.ChannelTrades, event(t, "m1"))

	got := readEvent(t, bus, conn, domain.ChannelTrades, event(t, "m2"))
	var ev domain.Event
	require.NoError(t, json.Unmarshal(got.Event, &ev))
	assert.Equal(t, "m2", ev.MarketID)
}

func TestHubReplay(t *testing.T) {
	bus, conn := startHub(t)
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, domain.ChannelOrders, event(t, "m1")))
	require.NoError(t, bus.StreamAppend(ctx, domain.ChannelOrders, event(t, "m2")))

	require.NoError(t, conn.WriteJSON(subscribeMsg{
		Action:   "subscribe",
		Channels: []string{"orders:m2"},
		Since:    "0",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "replay", got.Type)
	assert.Equal(t, "2-0", got.ID)
}

func TestHubRejectsMalformedRequests(t *testing.T) {
	_, conn := startHub(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "error", got.Type)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://any.example"))
	assert.True(t, originAllowed([]string{"https://app.example"}, ""))
	assert.True(t, originAllowed([]string{"https://APP.example"}, "https://app.example"))
	assert.False(t, originAllowed([]string{"https://app.example"}, "https://evil.example"))
}
