// Package ws relays signal-bus events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictex/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayLimit caps the stream entries sent for one replay request.
	replayLimit = 500
)

// Channels are the bus channels the hub relays.
var Channels = []string{
	domain.ChannelOrders,
	domain.ChannelTrades,
	domain.ChannelPrices,
	domain.ChannelMarkets,
}

// subscribeMsg is the JSON message a client sends to manage its
// subscriptions. Channels are bus channel names, optionally narrowed to one
// market as "prices:<market_id>". Since asks for stream entries after the
// given id to be replayed first ("0" replays everything retained).
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
	Since    string   `json:"since,omitempty"`
}

// envelope is the frame written to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	ID      string          `json:"id,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Payload any             `json:"payload,omitempty"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the signal bus to subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries an event with the channel and market it belongs to so
// the hub can route it only to interested clients.
type broadcastMsg struct {
	channel  string
	marketID string
	data     []byte
}

// Config captures runtime metadata sent to clients on connect and the
// origins allowed to open a socket. No origins allows any.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// NewHub creates a hub that bridges bus to connected WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	origins := cfg.AllowedOrigins

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		startedAt: startedAt,
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range Channels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			frame, err := json.Marshal(envelope{Type: "event", Channel: msg.channel, Event: msg.data})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel, msg.marketID) {
					select {
					case c.send <- frame:
					default:
						h.logger.Warn("dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel forwards bus messages on channel to the broadcast loop.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", channel))
				return
			}
			var ev struct {
				MarketID string `json:"market_id"`
			}
			_ = json.Unmarshal(data, &ev)
			select {
			case h.broadcast <- broadcastMsg{channel: channel, marketID: ev.MarketID, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start subscribed to every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// readPump reads subscription requests from the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			c.sendError("expected {\"action\":\"subscribe\"|\"unsubscribe\",\"channels\":[...]}")
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription applies a subscribe or unsubscribe request and replays
// stream history when asked.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	if msg.Action == "subscribe" && msg.Since != "" {
		c.replay(msg.Channels, msg.Since)
	}
}

// replay sends retained stream entries after since for each channel.
func (c *client) replay(channels []string, since string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	for _, sub := range channels {
		channel, marketID, _ := strings.Cut(sub, ":")
		msgs, err := c.hub.bus.StreamRead(ctx, channel, since, replayLimit)
		if err != nil {
			c.sendError("replay " + channel + ": " + err.Error())
			continue
		}
		for _, m := range msgs {
			if marketID != "" && !eventInMarket(m.Payload, marketID) {
				continue
			}
			frame, err := json.Marshal(envelope{Type: "replay", Channel: channel, ID: m.ID, Event: m.Payload})
			if err != nil {
				continue
			}
			select {
			case c.send <- frame:
			default:
				return
			}
		}
	}
}

func eventInMarket(payload []byte, marketID string) bool {
	var ev struct {
		MarketID string `json:"market_id"`
	}
	return json.Unmarshal(payload, &ev) == nil && ev.MarketID == marketID
}

// sendHello lets clients mark the connection healthy before any event flows.
func (c *client) sendHello() {
	c.mu.RLock()
	subs := make([]string, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	c.push(envelope{Type: "hello", Payload: map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": max(int64(time.Since(c.hub.startedAt).Seconds()), 0),
		"channels":       subs,
	}})
}

func (c *client) sendError(msg string) {
	c.push(envelope{Type: "error", Payload: map[string]string{"error": msg}})
}

func (c *client) push(e envelope) {
	frame, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed reports whether the client wants events on channel for
// marketID, either for every market or for that one.
func (c *client) isSubscribed(channel, marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	return marketID != "" && c.subs[channel+":"+marketID]
}

// writePump writes queued frames as text messages and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
