// Package ws streams coordinator events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	sendBufferSize = 256

	// replayLimit caps how many submission events one replay returns.
	replayLimit = 500
)

// allBaskets subscribes a client to every basket.
const allBaskets = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // lower-case basket hex or allBaskets
	mu   sync.RWMutex

	sendMu sync.Mutex
	closed bool
}

// controlMsg is what a client sends to manage its subscription.
//
//	{"action":"subscribe","baskets":["0xabc..."]}
//	{"action":"unsubscribe","baskets":["*"]}
//	{"action":"replay","since":"1700000000000-0"}
type controlMsg struct {
	Action  string   `json:"action"`
	Baskets []string `json:"baskets"`
	Since   string   `json:"since"`
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans events from the bus out to connected clients, filtered by the
// baskets each client subscribed to.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.Event
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	cfg        Config
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	Sender    common.Address
	Baskets   []common.Address
	StartedAt time.Time
}

// NewHub creates a hub bridging bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
	}
}

// Run subscribes to the event channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return err
	}
	go h.forward(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
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
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			data, err := json.Marshal(envelope{Type: "event", Payload: ev})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if c.wants(ev.Basket) && !c.queue(data) {
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus messages into events. Undecodable messages are
// dropped.
func (h *Hub) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			var ev domain.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				h.logger.Warn("undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. Clients start
// subscribed to every basket, or to the comma-separated ?baskets= list.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	initial := []string{allBaskets}
	if q := r.URL.Query().Get("baskets"); q != "" {
		initial = strings.Split(q, ",")
	}
	c.subscribe(initial)

	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply("error", map[string]string{"error": "invalid control message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg controlMsg) {
	switch msg.Action {
	case "subscribe":
		c.subscribe(msg.Baskets)
	case "unsubscribe":
		c.mu.Lock()
		for _, b := range msg.Baskets {
			delete(c.subs, normalise(b))
		}
		c.mu.Unlock()
	case "replay":
		c.replay(msg.Since)
		return
	default:
		c.reply("error", map[string]string{"error": "unknown action " + msg.Action})
		return
	}
	c.reply("subscribed", c.subscriptions())
}

// replay sends durable submission events after since. An empty since
// starts from the beginning of the stream.
func (c *client) replay(since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := c.hub.bus.StreamRead(ctx, domain.SubmissionStream, since, replayLimit)
	if err != nil {
		c.hub.logger.Warn("replay failed", slog.String("error", err.Error()))
		c.reply("error", map[string]string{"error": "replay unavailable"})
		return
	}
	type entry struct {
		ID    string          `json:"id"`
		Event json.RawMessage `json:"event"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.Event
		if json.Unmarshal(m.Payload, &ev) != nil || !c.wants(ev.Basket) {
			continue
		}
		out = append(out, entry{ID: m.ID, Event: m.Payload})
	}
	c.reply("replay", out)
}

func (c *client) subscribe(baskets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range baskets {
		if b = normalise(b); b == allBaskets || common.IsHexAddress(b) {
			c.subs[b] = true
		}
	}
}

func (c *client) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for b := range c.subs {
		out = append(out, b)
	}
	return out
}

func (c *client) wants(basket common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allBaskets] || c.subs[strings.ToLower(basket.Hex())]
}

func normalise(b string) string {
	return strings.ToLower(strings.TrimSpace(b))
}

func (c *client) sendStatus() {
	c.reply("status", map[string]any{
		"mode":           c.hub.cfg.Mode,
		"sender":         c.hub.cfg.Sender,
		"baskets":        c.hub.cfg.Baskets,
		"uptime_seconds": int64(max(0, time.Since(c.hub.cfg.StartedAt).Seconds())),
		"subscriptions":  c.subscriptions(),
	})
}

// reply queues a message for this client only.
func (c *client) reply(typ string, payload any) {
	data, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return
	}
	c.queue(data)
}

// queue reports false when the message was dropped because the buffer is
// full or the client is gone.
func (c *client) queue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump sends queued messages as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
