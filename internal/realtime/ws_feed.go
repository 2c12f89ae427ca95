package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/moto-driver/internal/offer"
)

// Envelope is the frame exchanged on the websocket feed.
type Envelope struct {
	Type  string          `json:"type,omitempty"`
	Event string          `json:"event,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// WSFeed dials the ride server's websocket and forwards frames whose event
// matches the subscribed topic.
type WSFeed struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func NewWSFeed(url string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		URL:    url,
		Dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		Logger: logger,
	}
}

func (f *WSFeed) Subscribe(ctx context.Context, topic string) (offer.Subscription, error) {
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, f.URL, f.Header)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(Envelope{Type: FrameSubscribe, Topic: topic}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := newSubscription(16, func() error {
		deadline := time.Now().Add(time.Second)
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(Envelope{Type: FrameUnsubscribe, Topic: topic})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	})
	go f.read(conn, topic, s)
	return s, nil
}

func (f *WSFeed) read(conn *websocket.Conn, topic string, s *subscription) {
	defer close(s.ch)
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !s.closing() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				f.logger().Warn("ws feed read failed", "error", err)
			}
			return
		}
		if env.Event != topic || len(env.Data) == 0 {
			continue
		}
		if !s.deliver(env.Data) {
			return
		}
	}
}

func (f *WSFeed) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}
