package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/moto-driver/internal/models"
)

// RideStore keeps the driver's accepted ride history.
type RideStore interface {
	SaveRide(ctx context.Context, r *models.AcceptedRide) error
	UpdateStatus(ctx context.Context, rideID, status string) error
	Get(ctx context.Context, rideID string) (*models.AcceptedRide, error)
	ListByDriver(ctx context.Context, driverID string) ([]models.AcceptedRide, error)
	// Earnings sums ride values accepted at or after since.
	Earnings(ctx context.Context, driverID string, since time.Time) (float64, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.AcceptedRide
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.AcceptedRide)}
}

func (m *MemoryStore) SaveRide(ctx context.Context, r *models.AcceptedRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, rideID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, rideID string) (*models.AcceptedRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListByDriver(ctx context.Context, driverID string) ([]models.AcceptedRide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AcceptedRide, 0)
	for _, r := range m.rides {
		if r.DriverID == driverID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.After(out[j].AcceptedAt) })
	return out, nil
}

func (m *MemoryStore) Earnings(ctx context.Context, driverID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, r := range m.rides {
		if r.DriverID == driverID && !r.AcceptedAt.Before(since) {
			total += r.Value
		}
	}
	return total, nil
}
