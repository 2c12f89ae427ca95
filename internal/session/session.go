package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/models"
)

type Kind string

const (
	KindDriver Kind = "driver"
	KindAdmin  Kind = "admin"
)

// Session is the logged in account. It is created by Login and destroyed by End.
type Session struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Driver    *models.Driver `json:"driver,omitempty"`
	Admin     *models.Admin  `json:"admin,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AccountID returns the id of whichever account the session holds.
func (s *Session) AccountID() string {
	switch {
	case s.Driver != nil:
		return s.Driver.ID
	case s.Admin != nil:
		return s.Admin.ID
	}
	return ""
}

type Authenticator interface {
	Login(ctx context.Context, login, password string) (backend.LoginResponse, error)
}

// Manager owns at most one session at a time.
type Manager struct {
	auth   Authenticator
	logger *slog.Logger

	mu  sync.Mutex
	cur *Session
}

func NewManager(auth Authenticator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{auth: auth, logger: logger}
}

// Login authenticates against the backend and replaces any current session.
func (m *Manager) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, models.ErrMissingCredentials
	}
	resp, err := m.auth.Login(ctx, login, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s, err := fromLogin(resp)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.cur
	m.cur = s
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("session replaced", "previous", prev.ID)
	}
	m.logger.Info("session started", "session_id", s.ID, "kind", s.Kind, "account_id", s.AccountID())
	return s, nil
}

func fromLogin(resp backend.LoginResponse) (*Session, error) {
	s := &Session{ID: uuid.NewString(), Kind: Kind(resp.Type), CreatedAt: time.Now()}
	switch s.Kind {
	case KindDriver:
		var d models.Driver
		if err := json.Unmarshal(resp.User, &d); err != nil {
			return nil, fmt.Errorf("%w: driver: %v", models.ErrTransport, err)
		}
		s.Driver = &d
	case KindAdmin:
		var a models.Admin
		if err := json.Unmarshal(resp.User, &a); err != nil {
			return nil, fmt.Errorf("%w: admin: %v", models.ErrTransport, err)
		}
		s.Admin = &a
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAccount, resp.Type)
	}
	return s, nil
}

func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil, models.ErrNoSession
	}
	return m.cur, nil
}

// End destroys the current session and returns it.
func (m *Manager) End() (*Session, error) {
	m.mu.Lock()
	s := m.cur
	m.cur = nil
	m.mu.Unlock()
	if s == nil {
		return nil, models.ErrNoSession
	}
	m.logger.Info("session ended", "session_id", s.ID)
	return s, nil
}
