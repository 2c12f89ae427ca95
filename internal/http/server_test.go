package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/dispatch"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/offer"
	"github.com/example/moto-driver/internal/session"
	"github.com/example/moto-driver/internal/storage"
)

type chanSub struct {
	ch chan []byte
}

func (s *chanSub) Messages() <-chan []byte { return s.ch }
func (s *chanSub) Close() error {
	defer func() { _ = recover() }()
	close(s.ch)
	return nil
}

type chanFeed struct {
	sub *chanSub
}

func (f *chanFeed) Subscribe(ctx context.Context, topic string) (offer.Subscription, error) {
	f.sub = &chanSub{ch: make(chan []byte, 4)}
	return f.sub, nil
}

type fakeAuth struct {
	kind string
	user any
}

func (a *fakeAuth) Login(ctx context.Context, login, password string) (backend.LoginResponse, error) {
	if password != "pw" {
		return backend.LoginResponse{}, models.ErrInvalidCredentials
	}
	b, _ := json.Marshal(a.user)
	return backend.LoginResponse{Type: a.kind, User: b}, nil
}

type fakeBackend struct {
	acceptErr error
	created   []models.RideOffer
}

func (b *fakeBackend) AcceptRide(ctx context.Context, driverID, offerID string) (models.AcceptedRide, error) {
	if b.acceptErr != nil {
		return models.AcceptedRide{}, b.acceptErr
	}
	return models.AcceptedRide{RideOffer: models.RideOffer{ID: offerID, Pickup: "A", Dropoff: "B", Value: 7}, DriverID: driverID}, nil
}

func (b *fakeBackend) AvailableRides(ctx context.Context) ([]models.RideOffer, error) {
	return []models.RideOffer{{ID: "r1"}}, nil
}

func (b *fakeBackend) ListDriversByStatus(ctx context.Context, adminID string) (map[string][]models.Driver, error) {
	return map[string][]models.Driver{models.DriverStatusPending: {{ID: "d9"}}}, nil
}

func (b *fakeBackend) ApproveDriver(ctx context.Context, adminID, driverID string) (backend.MessageResponse, error) {
	return backend.MessageResponse{Message: "ok"}, nil
}

func (b *fakeBackend) ReproveDriver(ctx context.Context, adminID, driverID string) (backend.MessageResponse, error) {
	return backend.MessageResponse{}, &backend.APIError{Status: 404}
}

func (b *fakeBackend) CreateRide(ctx context.Context, adminID string, ride models.RideOffer) (backend.MessageResponse, error) {
	if ride.Pickup == "" || ride.Dropoff == "" {
		return backend.MessageResponse{}, models.ErrMissingLocations
	}
	b.created = append(b.created, ride)
	return backend.MessageResponse{Message: "Ride created"}, nil
}

func (b *fakeBackend) StopAllSimulations(ctx context.Context, adminID string) (backend.MessageResponse, error) {
	return backend.MessageResponse{Message: "Stopped 0 simulations"}, nil
}

type apiHarness struct {
	srv   *httptest.Server
	api   *Server
	feed  *chanFeed
	be    *fakeBackend
	rides *storage.MemoryStore
}

func newAPI(t *testing.T, auth session.Authenticator) *apiHarness {
	t.Helper()
	h := &apiHarness{feed: &chanFeed{}, be: &fakeBackend{}, rides: storage.NewMemoryStore()}
	factory := func(d models.Driver) *offer.Controller {
		return offer.New(offer.Config{DriverID: d.ID, Topic: "nova_corrida"}, offer.Deps{
			Feed:    h.feed,
			Backend: h.be,
			Rides:   h.rides,
		})
	}
	h.api = NewServer(session.NewManager(auth, nil), factory, h.be, h.rides, dispatch.NewWSRegistry(nil), nil)
	h.srv = httptest.NewServer(h.api)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return h.doAuth(t, method, path, "", body)
}

func (h *apiHarness) doAuth(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (h *apiHarness) state(t *testing.T) stateResponse {
	t.Helper()
	resp, body := h.do(t, http.MethodGet, "/api/v1/driver/state", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state: %d %s", resp.StatusCode, body)
	}
	var st stateResponse
	_ = json.Unmarshal(body, &st)
	return st
}

func waitState(t *testing.T, h *apiHarness, want string) stateResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.state(t)
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state never reached %s, last %s", want, st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDriverFlow(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "driver", user: models.Driver{ID: "d1", Name: "Ana"}})

	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/online", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before login, got %d", resp.StatusCode)
	}
	if resp, body := h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "ana", Password: "pw"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %s", resp.StatusCode, body)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/online", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("online: %d", resp.StatusCode)
	}
	if st := h.state(t); st.State != "online_idle" || !st.SubscriptionActive {
		t.Fatalf("unexpected state %+v", st)
	}

	h.feed.sub.ch <- []byte(`{"id": 77, "startLocation": "A", "endLocation": "B"}`)
	st := waitState(t, h, "online_offer_pending")
	if st.Pending == nil || st.Pending.ID != "77" {
		t.Fatalf("expected pending offer 77, got %+v", st.Pending)
	}

	resp, body := h.do(t, http.MethodPost, "/api/v1/driver/offer/accept", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", resp.StatusCode, body)
	}
	var ride models.AcceptedRide
	_ = json.Unmarshal(body, &ride)
	if ride.ID != "77" || ride.DriverID != "d1" {
		t.Fatalf("unexpected ride %+v", ride)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/driver/earnings?period=week", nil)
	var earn earningsResponse
	_ = json.Unmarshal(body, &earn)
	if resp.StatusCode != http.StatusOK || earn.Total != 7 || earn.Period != "week" {
		t.Fatalf("earnings: %d %s", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/ride/finish", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("finish: %d", resp.StatusCode)
	}
	r, _ := h.rides.Get(context.Background(), "77")
	if r.Status != models.RideStatusCompleted {
		t.Fatalf("ride should be completed, got %s", r.Status)
	}

	if resp, _ := h.do(t, http.MethodDelete, "/api/v1/session", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/online", nil); resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 after logout, got %d", resp.StatusCode)
	}
}

func TestDriverAcceptLost(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "driver", user: models.Driver{ID: "d1"}})
	h.be.acceptErr = models.ErrRideUnavailable
	h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "ana", Password: "pw"})
	h.do(t, http.MethodPost, "/api/v1/driver/online", nil)
	h.feed.sub.ch <- []byte(`{"id": "r1", "startLocation": "A", "endLocation": "B"}`)
	waitState(t, h, "online_offer_pending")

	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/offer/accept", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if st := h.state(t); st.State != "online_idle" || st.Pending != nil {
		t.Fatalf("offer should be gone, got %+v", st)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/driver/offer/decline", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("decline with nothing pending should be 409, got %d", resp.StatusCode)
	}
}

func TestLoginErrors(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "driver", user: models.Driver{ID: "d1"}})
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "", Password: ""}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "ana", Password: "bad"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/session", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "admin", user: models.Admin{ID: "a1", Role: "master"}})
	h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "root", Password: "pw"})

	if h.api.Controller() != nil {
		t.Fatal("admin login must not build a driver controller")
	}
	resp, body := h.do(t, http.MethodGet, "/api/v1/admin/drivers?status=pendente", nil)
	var drivers []models.Driver
	_ = json.Unmarshal(body, &drivers)
	if resp.StatusCode != http.StatusOK || len(drivers) != 1 {
		t.Fatalf("drivers: %d %s", resp.StatusCode, body)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/admin/rides", models.RideOffer{Pickup: "A"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing dropoff, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/admin/rides", models.RideOffer{Pickup: "A", Dropoff: "B"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/admin/drivers/d9/approve", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/v1/admin/drivers/d9/reprove", nil); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("backend errors should surface as 502, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/driver/earnings", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin has no earnings, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.ErrMissingCredentials: http.StatusBadRequest,
		models.ErrInvalidCredentials: http.StatusUnauthorized,
		models.ErrNoSession:          http.StatusForbidden,
		models.ErrInvalidState:       http.StatusConflict,
		models.ErrRideUnavailable:    http.StatusConflict,
		models.ErrSessionClosed:      http.StatusGone,
		models.ErrTransport:          http.StatusBadGateway,
		errors.New("boom"):           http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestReady(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "driver", user: models.Driver{ID: "d1"}})
	if resp, _ := h.do(t, http.MethodGet, "/ready", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("no checks should be ready, got %d", resp.StatusCode)
	}
	h.api.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	resp, body := h.do(t, http.MethodGet, "/ready", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !bytes.Contains(body, []byte("redis")) {
		t.Fatalf("expected 503 naming redis, got %d %s", resp.StatusCode, body)
	}
}

func TestTokens(t *testing.T) {
	h := newAPI(t, &fakeAuth{kind: "driver", user: models.Driver{ID: "d1"}})
	h.api.Tokens = session.NewSigner("test-secret", time.Hour)

	resp, body := h.do(t, http.MethodPost, "/api/v1/session", backend.LoginRequest{Login: "ana", Password: "pw"})
	var login struct {
		ID    string `json:"id"`
		Kind  string `json:"kind"`
		Token string `json:"token"`
	}
	_ = json.Unmarshal(body, &login)
	if resp.StatusCode != http.StatusOK || login.Token == "" || login.Kind != "driver" || login.ID == "" {
		t.Fatalf("login should return session and token: %d %s", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodGet, "/api/v1/driver/state", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := h.doAuth(t, http.MethodGet, "/api/v1/driver/state", "garbage", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
	if resp, _ := h.doAuth(t, http.MethodGet, "/api/v1/driver/state", login.Token, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	if resp, _ := h.doAuth(t, http.MethodDelete, "/api/v1/session", login.Token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	if resp, _ := h.doAuth(t, http.MethodGet, "/api/v1/driver/state", login.Token, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token must die with the session, got %d", resp.StatusCode)
	}
}
