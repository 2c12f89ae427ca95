package publish

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/moto-driver/internal/observability"
	"github.com/example/moto-driver/internal/realtime"
)

type hubClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	topics map[string]bool
}

func (c *hubClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (c *hubClient) write(env realtime.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(env)
}

// WSHub is the server side of realtime.WSFeed. Clients send subscribe and
// unsubscribe frames; Publish sends {event: topic, data: payload} to every
// client subscribed to topic.
type WSHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*hubClient]struct{}),
	}
}

func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	c := &hubClient{conn: conn, topics: make(map[string]bool)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		c.mu.Lock()
		switch env.Type {
		case realtime.FrameSubscribe:
			c.topics[env.Topic] = true
		case realtime.FrameUnsubscribe:
			delete(c.topics, env.Topic)
		}
		c.mu.Unlock()
	}
}

// Subscribers counts clients currently listening on topic.
func (h *WSHub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.subscribed(topic) {
			n++
		}
	}
	return n
}

func (h *WSHub) Publish(ctx context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	env := realtime.Envelope{Event: topic, Data: payload}
	for _, c := range targets {
		if err := c.write(env); err != nil {
			h.logger.Debug("ws hub write failed", "error", err)
		}
	}
	observability.PublishedOffers.WithLabelValues("ws").Inc()
	return nil
}

func (h *WSHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
	return nil
}
