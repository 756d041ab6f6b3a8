package matcher

import (
	"fmt"
	"sort"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

// Locations is the snapshot source the matcher scans.
type Locations interface {
	ListDriverLocations() []models.LocationRecord
}

type Candidate struct {
	DriverID   string                `json:"driver_id"`
	Location   models.LocationRecord `json:"location"`
	DistanceKm float64               `json:"distance_km"`
}

// Service holds no state of its own; every call works on a fresh snapshot of
// driver locations, so it is safe for concurrent use.
type Service struct {
	Locations Locations
}

func New(locs Locations) *Service { return &Service{Locations: locs} }

// FindNearestDriver returns the driver closest to pickup that is not in
// excluding. Equal distances go to the lexicographically smallest id.
func (s *Service) FindNearestDriver(pickup models.Coord, excluding map[string]struct{}) (Candidate, error) {
	var best Candidate
	found := false
	for _, rec := range s.Locations.ListDriverLocations() {
		if _, skip := excluding[rec.ActorID]; skip {
			continue
		}
		d := geo.DistanceKm(pickup, rec.Loc)
		if !found || d < best.DistanceKm || (d == best.DistanceKm && rec.ActorID < best.DriverID) {
			best = Candidate{DriverID: rec.ActorID, Location: rec, DistanceKm: d}
			found = true
		}
	}
	if !found {
		return Candidate{}, fmt.Errorf("near %.5f,%.5f: %w", pickup.Lat, pickup.Lon, models.ErrNoDriverAvailable)
	}
	return best, nil
}

// Nearby ranks drivers by distance to pickup, same tie-break as
// FindNearestDriver. limit <= 0 returns every driver.
func (s *Service) Nearby(pickup models.Coord, limit int) []Candidate {
	locs := s.Locations.ListDriverLocations()
	out := make([]Candidate, 0, len(locs))
	for _, rec := range locs {
		out = append(out, Candidate{DriverID: rec.ActorID, Location: rec, DistanceKm: geo.DistanceKm(pickup, rec.Loc)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].DriverID < out[j].DriverID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
