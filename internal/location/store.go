package location

import (
	"fmt"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

// Store holds the latest known position per actor. Records live in a sharded
// map, so reports for different actors never contend on a single lock and a
// report for one actor replaces its record atomically.
type Store struct {
	records cmap.ConcurrentMap[string, models.LocationRecord]
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{records: cmap.New[models.LocationRecord](), now: time.Now}
}

// Report overwrites the record for actorID. A zero ts is stamped with the
// store clock.
func (s *Store) Report(actorID string, role models.Role, lat, lon float64, ts time.Time) (models.LocationRecord, error) {
	loc := models.Coord{Lat: lat, Lon: lon}
	if err := geo.Validate(loc); err != nil {
		return models.LocationRecord{}, fmt.Errorf("report location for %s: %w", actorID, err)
	}
	if ts.IsZero() {
		ts = s.now()
	}
	rec := models.LocationRecord{
		ActorID:   actorID,
		Role:      role,
		Loc:       loc,
		Geohash:   geo.Cell(loc),
		UpdatedAt: ts.UTC(),
	}
	s.records.Set(actorID, rec)
	return rec, nil
}

func (s *Store) Get(actorID string) (models.LocationRecord, error) {
	rec, ok := s.records.Get(actorID)
	if !ok {
		return models.LocationRecord{}, fmt.Errorf("location for %s: %w", actorID, models.ErrNotFound)
	}
	return rec, nil
}

// ListDriverLocations returns a point-in-time copy of every driver record.
// Order is unspecified.
func (s *Store) ListDriverLocations() []models.LocationRecord {
	out := make([]models.LocationRecord, 0, s.records.Count())
	for item := range s.records.IterBuffered() {
		if item.Val.Role == models.RoleDriver {
			out = append(out, item.Val)
		}
	}
	return out
}

func (s *Store) Count() int { return s.records.Count() }
