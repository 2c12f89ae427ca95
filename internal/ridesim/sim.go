// Package ridesim is an in-memory stand-in for the ride backend. Admins create
// rides, which are published on the realtime topic; drivers race to accept them.
package ridesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/moto-driver/internal/backend"
	httpapi "github.com/example/moto-driver/internal/http"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/publish"
)

const (
	RoleMaster = "master"
	RoleCity   = "cidade"
)

type account struct {
	password string
	driver   *models.Driver
	admin    *models.Admin
}

type Sim struct {
	topic     string
	publisher publish.Publisher
	locker    Locker
	logger    *slog.Logger
	router    *mux.Router

	mu       sync.Mutex
	accounts map[string]*account // by login
	drivers  map[string]*models.Driver
	admins   map[string]*models.Admin
	rides    map[string]*models.AcceptedRide
	order    []string
}

func New(topic string, publisher publish.Publisher, locker Locker, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	s := &Sim{
		topic:     topic,
		publisher: publisher,
		locker:    locker,
		logger:    logger,
		router:    mux.NewRouter(),
		accounts:  make(map[string]*account),
		drivers:   make(map[string]*models.Driver),
		admins:    make(map[string]*models.Admin),
		rides:     make(map[string]*models.AcceptedRide),
	}
	httpapi.RegisterMiddleware(s.router, logger)
	s.routes()
	return s
}

func (s *Sim) Router() *mux.Router { return s.router }

func (s *Sim) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Sim) routes() {
	s.router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/driver/rides", s.handleAvailableRides).Methods(http.MethodGet)
	s.router.HandleFunc("/driver/rides/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/drivers", s.adminOnly(s.handleDrivers)).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/drivers/{id}/approve", s.adminOnly(s.handleReview(models.DriverStatusApproved))).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/drivers/{id}/reprove", s.adminOnly(s.handleReview(models.DriverStatusRejected))).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/create-ride", s.adminOnly(s.handleCreateRide)).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/rides/stop-all", s.adminOnly(s.handleStopAll)).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}

// AddDriver registers a driver account. An empty id is generated.
func (s *Sim) AddDriver(d models.Driver, password string) models.Driver {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DriverStatusPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = &d
	s.accounts[strings.ToLower(d.Email)] = &account{password: password, driver: &d}
	return d
}

func (s *Sim) AddAdmin(a models.Admin, password string) models.Admin {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Role == "" {
		a.Role = RoleMaster
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[a.ID] = &a
	s.accounts[strings.ToLower(a.Email)] = &account{password: password, admin: &a}
	return a
}

// Ride returns a copy of the ride with the given id.
func (s *Sim) Ride(id string) (models.AcceptedRide, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.AcceptedRide{}, false
	}
	return *r, true
}

func (s *Sim) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		httpapi.WriteError(w, models.ErrMissingCredentials)
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Login))]
	var resp struct {
		Type string `json:"type"`
		User any    `json:"user"`
	}
	if ok && acc.password == req.Password {
		if acc.driver != nil {
			resp.Type, resp.User = "driver", *acc.driver
		} else {
			resp.Type, resp.User = "admin", *acc.admin
		}
	}
	s.mu.Unlock()

	if resp.Type == "" {
		httpapi.WriteMessage(w, http.StatusUnauthorized, models.ErrInvalidCredentials.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (s *Sim) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]models.RideOffer, 0)
	for _, id := range s.order {
		if ride := s.rides[id]; ride.Status == models.RideStatusPending {
			out = append(out, ride.RideOffer)
		}
	}
	s.mu.Unlock()
	httpapi.WriteJSON(w, http.StatusOK, out)
}

type acceptBody struct {
	DriverID string `json:"driverId"`
}

func (s *Sim) handleAccept(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		httpapi.WriteMessage(w, http.StatusBadRequest, "driverId is required")
		return
	}

	s.mu.Lock()
	ride, ok := s.rides[rideID]
	pending := ok && ride.Status == models.RideStatusPending
	s.mu.Unlock()
	if !ok {
		httpapi.WriteMessage(w, http.StatusNotFound, "ride not found")
		return
	}
	if !pending {
		httpapi.WriteMessage(w, http.StatusConflict, "ride already accepted")
		return
	}

	won, err := s.locker.TryLock(r.Context(), rideID, body.DriverID)
	if err != nil {
		s.logger.Error("accept lock failed", "ride_id", rideID, "error", err)
		httpapi.WriteMessage(w, http.StatusServiceUnavailable, "try again")
		return
	}
	if !won {
		httpapi.WriteMessage(w, http.StatusConflict, "ride already accepted")
		return
	}

	s.mu.Lock()
	ride, ok = s.rides[rideID]
	if !ok || ride.Status != models.RideStatusPending {
		s.mu.Unlock()
		s.release(r.Context(), rideID)
		httpapi.WriteMessage(w, http.StatusConflict, "ride already accepted")
		return
	}
	ride.Status = models.RideStatusAccepted
	ride.DriverID = body.DriverID
	ride.AcceptedAt = time.Now().UTC()
	out := *ride
	s.mu.Unlock()

	s.logger.Info("ride accepted", "ride_id", rideID, "driver_id", body.DriverID)
	httpapi.WriteJSON(w, http.StatusOK, out)
}

type adminHandler func(w http.ResponseWriter, r *http.Request, admin models.Admin)

func (s *Sim) adminOnly(next adminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("admin-id")
		s.mu.Lock()
		a, ok := s.admins[id]
		var admin models.Admin
		if ok {
			admin = *a
		}
		s.mu.Unlock()
		if !ok {
			httpapi.WriteError(w, models.ErrForbidden)
			return
		}
		next(w, r, admin)
	}
}

func manages(a models.Admin, city string) bool {
	if a.Role == RoleMaster {
		return true
	}
	for _, c := range a.ManagedCities {
		if strings.EqualFold(c, city) {
			return true
		}
	}
	return false
}

func (s *Sim) handleDrivers(w http.ResponseWriter, r *http.Request, admin models.Admin) {
	s.mu.Lock()
	out := make([]models.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		if manages(admin, d.City) {
			out = append(out, *d)
		}
	}
	s.mu.Unlock()
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (s *Sim) handleReview(status string) adminHandler {
	return func(w http.ResponseWriter, r *http.Request, admin models.Admin) {
		id := mux.Vars(r)["id"]
		s.mu.Lock()
		d, ok := s.drivers[id]
		allowed := ok && manages(admin, d.City)
		if allowed {
			d.Status = status
		}
		s.mu.Unlock()
		switch {
		case !ok:
			httpapi.WriteError(w, fmt.Errorf("driver %s: %w", id, models.ErrNotFound))
		case !allowed:
			httpapi.WriteError(w, models.ErrForbidden)
		default:
			s.logger.Info("driver reviewed", "driver_id", id, "status", status, "admin_id", admin.ID)
			httpapi.WriteJSON(w, http.StatusOK, backend.MessageResponse{Message: "Driver " + status})
		}
	}
}

type createRideResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (s *Sim) handleCreateRide(w http.ResponseWriter, r *http.Request, admin models.Admin) {
	var o models.RideOffer
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		httpapi.WriteMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	o.Pickup, o.Dropoff = strings.TrimSpace(o.Pickup), strings.TrimSpace(o.Dropoff)
	if o.Pickup == "" || o.Dropoff == "" {
		httpapi.WriteError(w, models.ErrMissingLocations)
		return
	}
	if o.Value < 0 {
		httpapi.WriteError(w, fmt.Errorf("%w: negative value", models.ErrMalformedOffer))
		return
	}
	if o.Value == 0 {
		o.Value = models.DefaultRideValue
	}
	o.ID = uuid.NewString()
	o.Status = models.RideStatusPending

	s.mu.Lock()
	s.rides[o.ID] = &models.AcceptedRide{RideOffer: o}
	s.order = append(s.order, o.ID)
	s.mu.Unlock()

	if err := s.publish(r.Context(), o); err != nil {
		s.logger.Error("publish ride failed", "ride_id", o.ID, "error", err)
		httpapi.WriteMessage(w, http.StatusBadGateway, "ride stored but not published")
		return
	}
	s.logger.Info("ride created", "ride_id", o.ID, "admin_id", admin.ID, "value", o.Value)
	httpapi.WriteJSON(w, http.StatusCreated, createRideResponse{Message: "Ride created", ID: o.ID})
}

func (s *Sim) publish(ctx context.Context, o models.RideOffer) error {
	if s.publisher == nil {
		return errors.New("no publisher configured")
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, s.topic, b)
}

// StopAll drops every ride nobody accepted and returns how many went away.
// Accept locks taken on the dropped rides are released.
func (s *Sim) StopAll(ctx context.Context) int {
	s.mu.Lock()
	kept := s.order[:0]
	var removed []string
	for _, id := range s.order {
		if s.rides[id].Status == models.RideStatusPending {
			delete(s.rides, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	s.mu.Unlock()

	for _, id := range removed {
		s.release(ctx, id)
	}
	return len(removed)
}

func (s *Sim) release(ctx context.Context, rideID string) {
	if err := s.locker.Release(ctx, rideID); err != nil {
		s.logger.Warn("release accept lock failed", "ride_id", rideID, "error", err)
	}
}

func (s *Sim) handleStopAll(w http.ResponseWriter, r *http.Request, admin models.Admin) {
	n := s.StopAll(r.Context())
	s.logger.Info("simulations stopped", "removed", n, "admin_id", admin.ID)
	httpapi.WriteJSON(w, http.StatusOK, backend.MessageResponse{Message: fmt.Sprintf("Stopped %d simulations", n)})
}
