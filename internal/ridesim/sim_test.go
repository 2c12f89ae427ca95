package ridesim

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/models"
)

type recPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *recPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload)
	return nil
}

func (p *recPublisher) Close() error { return nil }

type fixture struct {
	sim    *Sim
	pub    *recPublisher
	client *backend.Client
	admin  models.Admin
	close  func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := &recPublisher{}
	sim := New("nova_corrida", pub, nil, nil)
	admin := sim.AddAdmin(models.Admin{Email: "root@example.com", Role: RoleMaster}, "pw")
	srv := httptest.NewServer(sim)
	return &fixture{sim: sim, pub: pub, client: backend.NewClient(srv.URL, 0), admin: admin, close: srv.Close}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	f.sim.AddDriver(models.Driver{ID: "d1", Email: "Ana@example.com", Name: "Ana"}, "secret")

	resp, err := f.client.Login(context.Background(), "ana@example.com", "secret")
	if err != nil || resp.Type != "driver" {
		t.Fatalf("driver login: %+v err=%v", resp, err)
	}
	resp, err = f.client.Login(context.Background(), "root@example.com", "pw")
	if err != nil || resp.Type != "admin" {
		t.Fatalf("admin login: %+v err=%v", resp, err)
	}
	if _, err := f.client.Login(context.Background(), "ana@example.com", "wrong"); !errors.Is(err, models.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateRide_PublishesAndLists(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	ctx := context.Background()

	if _, err := f.client.CreateRide(ctx, f.admin.ID, models.RideOffer{Pickup: "Rua A", Dropoff: "Rua B", PaymentMethod: "pix"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(f.pub.topics) != 1 || f.pub.topics[0] != "nova_corrida" {
		t.Fatalf("expected one publish on nova_corrida, got %v", f.pub.topics)
	}
	o, err := models.DecodeRideOffer(f.pub.bodies[0])
	if err != nil {
		t.Fatalf("published payload must decode: %v", err)
	}
	if o.Value != models.DefaultRideValue || o.Status != models.RideStatusPending {
		t.Fatalf("unexpected published offer %+v", o)
	}

	rides, err := f.client.AvailableRides(ctx)
	if err != nil || len(rides) != 1 || rides[0].ID != o.ID {
		t.Fatalf("available rides: %+v err=%v", rides, err)
	}
}

func TestCreateRide_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	_, err := f.client.CreateRide(context.Background(), "nobody", models.RideOffer{Pickup: "A", Dropoff: "B"})
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestAccept_FirstWins(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	ctx := context.Background()
	_, _ = f.client.CreateRide(ctx, f.admin.ID, models.RideOffer{Pickup: "A", Dropoff: "B", Value: 15})
	rides, _ := f.client.AvailableRides(ctx)
	rideID := rides[0].ID

	const drivers = 8
	var wg sync.WaitGroup
	results := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.client.AcceptRide(ctx, "d"+string(rune('a'+i)), rideID)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrRideUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 || lost != drivers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d lost=%d", wins, lost)
	}
	r, _ := f.sim.Ride(rideID)
	if r.Status != models.RideStatusAccepted || r.DriverID == "" || r.Value != 15 {
		t.Fatalf("unexpected ride %+v", r)
	}
	rides, _ = f.client.AvailableRides(ctx)
	if len(rides) != 0 {
		t.Fatalf("accepted ride must leave the available list")
	}
}

func TestAccept_UnknownRide(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	if _, err := f.client.AcceptRide(context.Background(), "d1", "missing"); !errors.Is(err, models.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}
}

func TestDriversAndReview(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	ctx := context.Background()
	f.sim.AddDriver(models.Driver{ID: "d1", Email: "a@x", City: "Recife"}, "pw")
	f.sim.AddDriver(models.Driver{ID: "d2", Email: "b@x", City: "Natal"}, "pw")
	city := f.sim.AddAdmin(models.Admin{Email: "city@x", Role: RoleCity, ManagedCities: []string{"recife"}}, "pw")

	all, err := f.client.DriversForAdmin(ctx, f.admin.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("master should see all drivers: %v err=%v", all, err)
	}
	own, _ := f.client.DriversForAdmin(ctx, city.ID)
	if len(own) != 1 || own[0].ID != "d1" {
		t.Fatalf("city admin should only see Recife: %v", own)
	}

	if _, err := f.client.ApproveDriver(ctx, city.ID, "d1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.client.ReproveDriver(ctx, city.ID, "d2"); err == nil {
		t.Fatal("city admin must not review drivers outside managed cities")
	}
	if _, err := f.client.ReproveDriver(ctx, f.admin.ID, "d2"); err != nil {
		t.Fatalf("reprove: %v", err)
	}

	groups, err := f.client.ListDriversByStatus(ctx, f.admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups[models.DriverStatusApproved]) != 1 || len(groups[models.DriverStatusRejected]) != 1 || len(groups[models.DriverStatusPending]) != 0 {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	ctx := context.Background()
	_, _ = f.client.CreateRide(ctx, f.admin.ID, models.RideOffer{Pickup: "A", Dropoff: "B"})
	_, _ = f.client.CreateRide(ctx, f.admin.ID, models.RideOffer{Pickup: "C", Dropoff: "D"})
	rides, _ := f.client.AvailableRides(ctx)
	_, _ = f.client.AcceptRide(ctx, "d1", rides[0].ID)

	resp, err := f.client.StopAllSimulations(ctx, f.admin.ID)
	if err != nil || resp.Message != "Stopped 1 simulations" {
		t.Fatalf("stop-all: %+v err=%v", resp, err)
	}
	if _, ok := f.sim.Ride(rides[0].ID); !ok {
		t.Fatal("accepted ride must survive stop-all")
	}
	if rides, _ := f.client.AvailableRides(ctx); len(rides) != 0 {
		t.Fatalf("pending rides should be gone: %v", rides)
	}
}

// racingLocker drops the ride right after granting its lock, so the accept
// handler loses its second status check.
type racingLocker struct {
	*MemoryLocker
	sim *Sim
}

func (l *racingLocker) TryLock(ctx context.Context, rideID, owner string) (bool, error) {
	won, err := l.MemoryLocker.TryLock(ctx, rideID, owner)
	if won {
		l.sim.mu.Lock()
		delete(l.sim.rides, rideID)
		l.sim.mu.Unlock()
	}
	return won, err
}

func TestAccept_LockReleasedWhenRideVanishes(t *testing.T) {
	mem := NewMemoryLocker()
	locker := &racingLocker{MemoryLocker: mem}
	sim := New("nova_corrida", &recPublisher{}, locker, nil)
	locker.sim = sim
	admin := sim.AddAdmin(models.Admin{Email: "root@example.com", Role: RoleMaster}, "pw")
	srv := httptest.NewServer(sim)
	defer srv.Close()
	client := backend.NewClient(srv.URL, 0)
	ctx := context.Background()

	_, _ = client.CreateRide(ctx, admin.ID, models.RideOffer{Pickup: "A", Dropoff: "B"})
	rides, _ := client.AvailableRides(ctx)
	rideID := rides[0].ID

	if _, err := client.AcceptRide(ctx, "d1", rideID); !errors.Is(err, models.ErrRideUnavailable) {
		t.Fatalf("expected ErrRideUnavailable, got %v", err)
	}
	if won, _ := mem.TryLock(ctx, rideID, "d2"); !won {
		t.Fatal("lock must be released after the ride vanished")
	}
}

func TestStopAll_ReleasesLocks(t *testing.T) {
	locker := NewMemoryLocker()
	sim := New("nova_corrida", &recPublisher{}, locker, nil)
	admin := sim.AddAdmin(models.Admin{Email: "root@example.com", Role: RoleMaster}, "pw")
	srv := httptest.NewServer(sim)
	defer srv.Close()
	client := backend.NewClient(srv.URL, 0)
	ctx := context.Background()

	_, _ = client.CreateRide(ctx, admin.ID, models.RideOffer{Pickup: "A", Dropoff: "B"})
	rides, _ := client.AvailableRides(ctx)
	rideID := rides[0].ID
	if won, _ := locker.TryLock(ctx, rideID, "d1"); !won {
		t.Fatal("first lock must win")
	}

	if n := sim.StopAll(ctx); n != 1 {
		t.Fatalf("expected one ride removed, got %d", n)
	}
	if won, _ := locker.TryLock(ctx, rideID, "d2"); !won {
		t.Fatal("stop-all must release locks of removed rides")
	}
}
