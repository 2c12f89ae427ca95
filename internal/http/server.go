package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/dispatch"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/offer"
	"github.com/example/moto-driver/internal/session"
	"github.com/example/moto-driver/internal/storage"
)

// ControllerFactory builds the offer controller for a freshly logged in driver.
type ControllerFactory func(d models.Driver) *offer.Controller

// AdminBackend is the part of the ride backend an admin session may drive.
type AdminBackend interface {
	AvailableRides(ctx context.Context) ([]models.RideOffer, error)
	ListDriversByStatus(ctx context.Context, adminID string) (map[string][]models.Driver, error)
	ApproveDriver(ctx context.Context, adminID, driverID string) (backend.MessageResponse, error)
	ReproveDriver(ctx context.Context, adminID, driverID string) (backend.MessageResponse, error)
	CreateRide(ctx context.Context, adminID string, ride models.RideOffer) (backend.MessageResponse, error)
	StopAllSimulations(ctx context.Context, adminID string) (backend.MessageResponse, error)
}

type Server struct {
	Sessions      *session.Manager
	NewController ControllerFactory
	Backend       AdminBackend
	Rides         storage.RideStore
	Events        *dispatch.WSRegistry
	// Tokens, when set, makes every route except login require the bearer
	// token issued at login.
	Tokens        *session.Signer

	logger   *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu     sync.Mutex
	ctrl   *offer.Controller
	checks map[string]func(context.Context) error
}

func NewServer(sessions *session.Manager, factory ControllerFactory, be AdminBackend, rides storage.RideStore, events *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Sessions:      sessions,
		NewController: factory,
		Backend:       be,
		Rides:         rides,
		Events:        events,
		logger:        logger,
		router:        mux.NewRouter(),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	RegisterMiddleware(s.router, logger)
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/session", s.auth(s.handleSession)).Methods(http.MethodGet)
	api.HandleFunc("/session", s.auth(s.handleLogout)).Methods(http.MethodDelete)

	api.HandleFunc("/rides/available", s.auth(s.handleAvailableRides)).Methods(http.MethodGet)

	drv := api.PathPrefix("/driver").Subrouter()
	drv.HandleFunc("/state", s.auth(s.withController(s.handleState))).Methods(http.MethodGet)
	drv.HandleFunc("/online", s.auth(s.withController(s.handleOnline))).Methods(http.MethodPost)
	drv.HandleFunc("/offline", s.auth(s.withController(s.handleOffline))).Methods(http.MethodPost)
	drv.HandleFunc("/offer/accept", s.auth(s.withController(s.handleAccept))).Methods(http.MethodPost)
	drv.HandleFunc("/offer/decline", s.auth(s.withController(s.handleDecline))).Methods(http.MethodPost)
	drv.HandleFunc("/ride/finish", s.auth(s.withController(s.handleFinish))).Methods(http.MethodPost)
	drv.HandleFunc("/earnings", s.auth(s.handleEarnings)).Methods(http.MethodGet)
	drv.HandleFunc("/rides", s.auth(s.handleHistory)).Methods(http.MethodGet)

	adm := api.PathPrefix("/admin").Subrouter()
	adm.HandleFunc("/drivers", s.auth(s.withAdmin(s.handleDrivers))).Methods(http.MethodGet)
	adm.HandleFunc("/drivers/{id}/approve", s.auth(s.withAdmin(s.handleApprove))).Methods(http.MethodPost)
	adm.HandleFunc("/drivers/{id}/reprove", s.auth(s.withAdmin(s.handleReprove))).Methods(http.MethodPost)
	adm.HandleFunc("/rides", s.auth(s.withAdmin(s.handleCreateRide))).Methods(http.MethodPost)
	adm.HandleFunc("/rides/stop-all", s.auth(s.withAdmin(s.handleStopAll))).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.auth(s.handleWS))
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

// AddCheck registers a readiness check served on /ready.
func (s *Server) AddCheck(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checks == nil {
		s.checks = make(map[string]func(context.Context) error)
	}
	s.checks[name] = fn
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	checks := make(map[string]func(context.Context) error, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.Unlock()

	failed := map[string]string{}
	for name, fn := range checks {
		if err := fn(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		WriteJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Tokens == nil {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			// browsers cannot set headers on websocket upgrades
			token = r.URL.Query().Get("token")
		}
		if _, err := s.Sessions.Authorize(s.Tokens, token); err != nil {
			s.logger.Warn("unauthorized request", "path", r.URL.Path, "error", err, "request_id", RequestIDFromContext(r.Context()))
			WriteError(w, err)
			return
		}
		next(w, r)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Controller returns the controller of the current or last driver session.
func (s *Server) Controller() *offer.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

// Shutdown logs the driver out so presence and feed are released.
func (s *Server) Shutdown() {
	s.mu.Lock()
	c := s.ctrl
	s.mu.Unlock()
	if c != nil {
		c.Logout()
	}
	if s.Events != nil {
		s.Events.CloseAll()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.Events.Serve(conn)
}
