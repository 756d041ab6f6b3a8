package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-coordinator/internal/models"
)

// TripStore persists ride request records. SaveRide is an upsert keyed by ride id.
type TripStore interface {
	SaveRide(ctx context.Context, r models.RideRequest) error
	ListRides(ctx context.Context) ([]models.RideRequest, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]models.RideRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]models.RideRequest)}
}

// SaveRide ignores a record older than the stored one, like the Postgres upsert.
func (m *MemoryStore) SaveRide(_ context.Context, r models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rides[r.ID]; ok && r.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) ListRides(_ context.Context) ([]models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRequest, 0, len(m.rides))
	for _, r := range m.rides {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Get(id string) (models.RideRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
