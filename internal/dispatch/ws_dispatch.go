package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/moto-driver/internal/models"
)

const (
	defaultSendBuffer = 32
	writeWait         = 5 * time.Second
)

// WSSession is one connected UI client.
type WSSession struct {
	ID   string
	conn *websocket.Conn
	send chan models.Event
	done chan struct{}
	once sync.Once
}

func (s *WSSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *WSSession) writeLoop(logger *slog.Logger) {
	defer s.close()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				logger.Debug("ws send error", "session_id", s.ID, "error", err)
				return
			}
		}
	}
}

// WSRegistry fans controller events out to every connected UI client.
// Publish never blocks: a client whose buffer is full misses the event.
type WSRegistry struct {
	logger *slog.Logger
	buffer int

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{logger: logger, buffer: defaultSendBuffer, sessions: make(map[string]*WSSession)}
}

// Add registers conn and starts its writer.
func (r *WSRegistry) Add(conn *websocket.Conn) *WSSession {
	s := &WSSession{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan models.Event, r.buffer),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	go s.writeLoop(r.logger)
	return s
}

func (r *WSRegistry) Remove(s *WSSession) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	s.close()
}

// Serve registers conn and blocks until the client goes away.
func (r *WSRegistry) Serve(conn *websocket.Conn) {
	s := r.Add(conn)
	defer r.Remove(s)
	r.logger.Info("ui client connected", "session_id", s.ID)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			r.logger.Info("ui client disconnected", "session_id", s.ID)
			return
		}
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) Publish(ev models.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		select {
		case s.send <- ev:
		case <-s.done:
		default:
			r.logger.Warn("ui client lagging, event dropped", "session_id", s.ID, "event", ev.Type)
		}
	}
}

// CloseAll disconnects every client.
func (r *WSRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.close()
		delete(r.sessions, id)
	}
}
