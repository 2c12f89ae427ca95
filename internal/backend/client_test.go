package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/moto-driver/internal/models"
)

func TestAcceptRide_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/driver/rides/r1/accept" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["driverId"] != "d1" {
			t.Errorf("unexpected body %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","startLocation":"A","endLocation":"B","value":7,"status":"accepted"}`))
	}))
	defer srv.Close()

	ride, err := NewClient(srv.URL, 0).AcceptRide(context.Background(), "d1", "r1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ride.ID != "r1" || ride.Status != "accepted" || ride.Pickup != "A" {
		t.Fatalf("unexpected ride %+v", ride)
	}
}

func TestAcceptRide_NumericIDInReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/driver/rides/17/accept" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id": 17, "startLocation":"A","endLocation":"B","value":7.0,"status":"accepted"}`))
	}))
	defer srv.Close()

	ride, err := NewClient(srv.URL, 0).AcceptRide(context.Background(), "d1", "17")
	if err != nil {
		t.Fatalf("numeric id must decode: %v", err)
	}
	if ride.ID != "17" || ride.Value != 7 || ride.Status != models.RideStatusAccepted {
		t.Fatalf("unexpected ride %+v", ride)
	}
}

func TestAvailableRides_NumericIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 3, "startLocation":"A","endLocation":"B","value":7}]`))
	}))
	defer srv.Close()

	rides, err := NewClient(srv.URL, 0).AvailableRides(context.Background())
	if err != nil {
		t.Fatalf("available rides: %v", err)
	}
	if len(rides) != 1 || rides[0].ID != "3" {
		t.Fatalf("unexpected rides %+v", rides)
	}
}

func TestAcceptRide_RejectedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"ride already taken"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).AcceptRide(context.Background(), "d1", "r1")
	if !errors.Is(err, models.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}
	if errors.Is(err, models.ErrTransport) {
		t.Fatalf("rejection must not look like a transport failure")
	}
}

func TestAcceptRide_ConnectionFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 0).AcceptRide(context.Background(), "d1", "r1")
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"type":"driver","user":{"id":"d1","name":"Ana","status":"aprovado"}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, 0)

	resp, err := c.Login(context.Background(), "ana@moto", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Type != "driver" {
		t.Fatalf("unexpected type %q", resp.Type)
	}
	if _, err := c.Login(context.Background(), "ana@moto", "wrong"); !errors.Is(err, models.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAdminCallsCarryAdminHeader(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("admin-id") != "adm1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/admin/drivers" {
			_, _ = w.Write([]byte(`[{"id":"a","status":"pendente"},{"id":"b","status":"aprovado"},{"id":"c","status":"reprovado"},{"id":"d","status":"pendente"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, 0)
	ctx := context.Background()

	groups, err := c.ListDriversByStatus(ctx, "adm1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups[models.DriverStatusPending]) != 2 || len(groups[models.DriverStatusApproved]) != 1 || len(groups[models.DriverStatusRejected]) != 1 {
		t.Fatalf("unexpected grouping %+v", groups)
	}
	if _, err := c.ApproveDriver(ctx, "adm1", "a"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := c.ReproveDriver(ctx, "adm1", "d"); err != nil {
		t.Fatalf("reprove: %v", err)
	}
	if _, err := c.CreateRide(ctx, "adm1", models.RideOffer{Pickup: "A", Dropoff: "B", PaymentMethod: "cash"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.StopAllSimulations(ctx, "adm1"); err != nil {
		t.Fatalf("stop-all: %v", err)
	}
	want := []string{
		"GET /admin/drivers",
		"POST /admin/drivers/a/approve",
		"POST /admin/drivers/d/reprove",
		"POST /admin/create-ride",
		"POST /admin/rides/stop-all",
	}
	if len(paths) != len(want) {
		t.Fatalf("unexpected calls %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], paths[i])
		}
	}

	var apiErr *APIError
	if _, err := c.DriversForAdmin(ctx, "nobody"); !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}
}

func TestCreateRide_RequiresLocations(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 0)
	if _, err := c.CreateRide(context.Background(), "adm1", models.RideOffer{Pickup: " "}); !errors.Is(err, models.ErrMissingLocations) {
		t.Fatalf("expected ErrMissingLocations, got %v", err)
	}
}
