package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusOpen:    {models.StatusMatched, models.StatusCancelled},
	models.StatusMatched: {models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the ride lifecycle.
func CanTransition(from, to models.RideStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger is the authoritative store of ride requests. Records are never
// removed; cancellation and completion are status changes.
//
// Mutations take per-key locks. Anything that can change which request is
// active for a rider holds "rider:<id>" before "req:<id>"; Match holds
// "driver:<id>" before "req:<id>". No operation takes both a rider and a
// driver lock.
type Ledger struct {
	requests cmap.ConcurrentMap[string, models.RideRequest]
	active   cmap.ConcurrentMap[string, string] // riderID -> open or matched requestID
	latest   cmap.ConcurrentMap[string, string] // riderID -> most recently created requestID
	drivers  cmap.ConcurrentMap[string, string] // driverID -> matched requestID
	locks    keyLocks

	now   func() time.Time
	newID func() string
}

func New() *Ledger {
	return &Ledger{
		requests: cmap.New[models.RideRequest](),
		active:   cmap.New[string](),
		latest:   cmap.New[string](),
		drivers:  cmap.New[string](),
		locks:    newKeyLocks(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create opens a new request for riderID.
func (l *Ledger) Create(riderID string, pickup models.Coord) (models.RideRequest, error) {
	if err := geo.Validate(pickup); err != nil {
		return models.RideRequest{}, fmt.Errorf("create request for %s: %w", riderID, err)
	}
	unlock := l.locks.lock(riderKey(riderID))
	defer unlock()

	if id, ok := l.active.Get(riderID); ok {
		return models.RideRequest{}, fmt.Errorf("rider %s has request %s: %w", riderID, id, models.ErrDuplicateActiveRequest)
	}
	now := l.now().UTC()
	req := models.RideRequest{
		ID:        l.newID(),
		RiderID:   riderID,
		Pickup:    pickup,
		Status:    models.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.requests.Set(req.ID, req)
	l.active.Set(riderID, req.ID)
	l.latest.Set(riderID, req.ID)
	return req, nil
}

func (l *Ledger) Cancel(requestID string) (models.RideRequest, error) {
	return l.transition(requestID, models.StatusCancelled, "")
}

// Match binds driverID to an open request. Under concurrent calls for the
// same request exactly one succeeds; the rest see ErrInvalidTransition. A
// driver already on a matched ride is refused with ErrDriverBusy.
func (l *Ledger) Match(requestID, driverID string) (models.RideRequest, error) {
	return l.transition(requestID, models.StatusMatched, driverID)
}

func (l *Ledger) Complete(requestID string) (models.RideRequest, error) {
	return l.transition(requestID, models.StatusCompleted, "")
}

func (l *Ledger) transition(requestID string, to models.RideStatus, driverID string) (models.RideRequest, error) {
	cur, ok := l.requests.Get(requestID)
	if !ok {
		return models.RideRequest{}, fmt.Errorf("request %s: %w", requestID, models.ErrRequestNotFound)
	}
	if !to.Active() {
		// RiderID never changes, so the unlocked read above is safe to key on.
		unlockRider := l.locks.lock(riderKey(cur.RiderID))
		defer unlockRider()
	}
	if to == models.StatusMatched {
		unlockDriver := l.locks.lock(driverKey(driverID))
		defer unlockDriver()
	}
	unlock := l.locks.lock(requestKey(requestID))
	defer unlock()

	cur, _ = l.requests.Get(requestID)
	if !CanTransition(cur.Status, to) {
		return models.RideRequest{}, fmt.Errorf("request %s %s -> %s: %w", requestID, cur.Status, to, models.ErrInvalidTransition)
	}
	if to == models.StatusMatched {
		if other, ok := l.drivers.Get(driverID); ok {
			return models.RideRequest{}, fmt.Errorf("request %s: driver %s is on %s: %w", requestID, driverID, other, models.ErrDriverBusy)
		}
	}
	from, prevDriver := cur.Status, cur.MatchedDriverID
	cur.Status = to
	switch to {
	case models.StatusMatched:
		cur.MatchedDriverID = driverID
	case models.StatusCancelled:
		cur.MatchedDriverID = ""
	}
	cur.UpdatedAt = l.now().UTC()
	l.requests.Set(requestID, cur)
	switch {
	case to == models.StatusMatched:
		l.drivers.Set(driverID, requestID)
	case from == models.StatusMatched:
		l.releaseDriver(prevDriver, requestID)
	}
	if !to.Active() {
		l.active.RemoveCb(cur.RiderID, func(_ string, v string, exists bool) bool {
			return exists && v == requestID
		})
	}
	return cur, nil
}

func (l *Ledger) releaseDriver(driverID, requestID string) {
	l.drivers.RemoveCb(driverID, func(_ string, v string, exists bool) bool {
		return exists && v == requestID
	})
}

func (l *Ledger) Get(requestID string) (models.RideRequest, error) {
	req, ok := l.requests.Get(requestID)
	if !ok {
		return models.RideRequest{}, fmt.Errorf("request %s: %w", requestID, models.ErrRequestNotFound)
	}
	return req, nil
}

// ActiveForRider returns the rider's open or matched request.
func (l *Ledger) ActiveForRider(riderID string) (models.RideRequest, error) {
	id, ok := l.active.Get(riderID)
	if !ok {
		return models.RideRequest{}, fmt.Errorf("active request for %s: %w", riderID, models.ErrNotFound)
	}
	req, ok := l.requests.Get(id)
	if !ok || !req.Status.Active() {
		return models.RideRequest{}, fmt.Errorf("active request for %s: %w", riderID, models.ErrNotFound)
	}
	return req, nil
}

// LatestForRider returns the most recently created request of the rider in
// whatever status it is now.
func (l *Ledger) LatestForRider(riderID string) (models.RideRequest, error) {
	id, ok := l.latest.Get(riderID)
	if !ok {
		return models.RideRequest{}, fmt.Errorf("requests for %s: %w", riderID, models.ErrNotFound)
	}
	return l.Get(id)
}

// HistoryForRider lists every request the rider has made, oldest first.
func (l *Ledger) HistoryForRider(riderID string) []models.RideRequest {
	var out []models.RideRequest
	for item := range l.requests.IterBuffered() {
		if item.Val.RiderID == riderID {
			out = append(out, item.Val)
		}
	}
	sortByCreated(out)
	return out
}

// ListOpen returns open requests. With near set they are ordered by distance
// to it, otherwise oldest first. limit <= 0 returns all of them.
func (l *Ledger) ListOpen(near *models.Coord, limit int) []models.RideRequest {
	var out []models.RideRequest
	for item := range l.requests.IterBuffered() {
		if item.Val.Status == models.StatusOpen {
			out = append(out, item.Val)
		}
	}
	if near != nil {
		dist := make(map[string]float64, len(out))
		for _, r := range out {
			dist[r.ID] = geo.DistanceKm(*near, r.Pickup)
		}
		sort.SliceStable(out, func(i, j int) bool {
			di, dj := dist[out[i].ID], dist[out[j].ID]
			if di != dj {
				return di < dj
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sortByCreated(out)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BusyDrivers returns the drivers currently bound to a matched request.
func (l *Ledger) BusyDrivers() map[string]struct{} {
	busy := make(map[string]struct{}, l.drivers.Count())
	for item := range l.drivers.IterBuffered() {
		busy[item.Key] = struct{}{}
	}
	return busy
}

// Restore loads previously journaled records, typically at startup before
// any traffic. Records that would bind a rider to two active requests, or a
// driver to two matched ones, are skipped and reported.
func (l *Ledger) Restore(records []models.RideRequest) error {
	sorted := append([]models.RideRequest(nil), records...)
	sortByCreated(sorted)

	var errs []error
	for _, r := range sorted {
		unlock := l.locks.lock(riderKey(r.RiderID))
		if r.Status.Active() {
			if id, ok := l.active.Get(r.RiderID); ok && id != r.ID {
				unlock()
				errs = append(errs, fmt.Errorf("restore %s: rider %s has request %s: %w", r.ID, r.RiderID, id, models.ErrDuplicateActiveRequest))
				continue
			}
			if r.Status == models.StatusMatched {
				if id, ok := l.drivers.Get(r.MatchedDriverID); ok && id != r.ID {
					unlock()
					errs = append(errs, fmt.Errorf("restore %s: driver %s is on %s: %w", r.ID, r.MatchedDriverID, id, models.ErrDriverBusy))
					continue
				}
				l.drivers.Set(r.MatchedDriverID, r.ID)
			}
			l.active.Set(r.RiderID, r.ID)
		}
		l.requests.Set(r.ID, r)
		l.latest.Set(r.RiderID, r.ID)
		unlock()
	}
	return errors.Join(errs...)
}

func sortByCreated(rs []models.RideRequest) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
