package coordinator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/ledger"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/matcher"
	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/observability"
)

// RideObserver is told about every committed ride change. Implementations
// must return quickly; anything slow belongs behind a queue.
type RideObserver interface {
	RideChanged(r models.RideRequest)
}

// LocationObserver is told about every accepted location report, with the
// same non-blocking contract as RideObserver.
type LocationObserver interface {
	LocationReported(rec models.LocationRecord)
}

// Coordinator is the in-process API over the location store, the ledger and
// the matcher. Every call finishes in bounded local time and commits fully or
// not at all; errors from the components are returned as-is.
//
// Observers are plain slices and must be set up before the coordinator is shared.
type Coordinator struct {
	Locations *location.Store
	Ledger    *ledger.Ledger
	Matcher   *matcher.Service
	SpeedMps  float64
	Logger    *slog.Logger

	RideObservers     []RideObserver
	LocationObservers []LocationObserver
}

func New(locs *location.Store, l *ledger.Ledger, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		Locations: locs,
		Ledger:    l,
		Matcher:   matcher.New(locs),
		SpeedMps:  eta.DefaultSpeedMps,
		Logger:    logger,
	}
}

func (c *Coordinator) RequestRide(riderID string, pickup models.Coord) (models.RideRequest, error) {
	req, err := c.Ledger.Create(riderID, pickup)
	if err != nil {
		return models.RideRequest{}, err
	}
	c.Logger.Info("ride_requested", "ride_id", req.ID, "rider_id", riderID, "lat", pickup.Lat, "lon", pickup.Lon)
	c.rideChanged(req)
	return req, nil
}

// CancelRide cancels the rider's most recent request. A rider who never
// requested gets ErrNotFound; one whose latest request already finished gets
// ErrInvalidTransition.
func (c *Coordinator) CancelRide(riderID string) (models.RideRequest, error) {
	req, err := c.Ledger.ActiveForRider(riderID)
	if errors.Is(err, models.ErrNotFound) {
		req, err = c.Ledger.LatestForRider(riderID)
	}
	if err != nil {
		return models.RideRequest{}, err
	}
	cancelled, err := c.Ledger.Cancel(req.ID)
	if err != nil {
		return models.RideRequest{}, err
	}
	c.Logger.Info("ride_cancelled", "ride_id", cancelled.ID, "rider_id", riderID)
	c.rideChanged(cancelled)
	return cancelled, nil
}

func (c *Coordinator) AcceptRide(driverID, requestID string) (models.RideRequest, error) {
	matched, err := c.Ledger.Match(requestID, driverID)
	if err != nil {
		return models.RideRequest{}, err
	}
	observability.MatchesTotal.Inc()
	c.Logger.Info("ride_accepted", "ride_id", requestID, "driver_id", driverID, "rider_id", matched.RiderID)
	c.rideChanged(matched)
	return matched, nil
}

func (c *Coordinator) CompleteRide(requestID string) (models.RideRequest, error) {
	done, err := c.Ledger.Complete(requestID)
	if err != nil {
		return models.RideRequest{}, err
	}
	c.Logger.Info("ride_completed", "ride_id", requestID, "driver_id", done.MatchedDriverID)
	c.rideChanged(done)
	return done, nil
}

func (c *Coordinator) ReportDriverLocation(driverID string, lat, lon float64, ts time.Time) error {
	return c.report(driverID, models.RoleDriver, lat, lon, ts)
}

func (c *Coordinator) ReportRiderLocation(riderID string, lat, lon float64, ts time.Time) error {
	return c.report(riderID, models.RoleRider, lat, lon, ts)
}

func (c *Coordinator) report(actorID string, role models.Role, lat, lon float64, ts time.Time) error {
	rec, err := c.Locations.Report(actorID, role, lat, lon, ts)
	if err != nil {
		observability.LocationsTotal.WithLabelValues(string(role), "rejected").Inc()
		return err
	}
	observability.LocationsTotal.WithLabelValues(string(role), "accepted").Inc()
	observability.ActorsTracked.Set(float64(c.Locations.Count()))
	c.Logger.Debug("location_reported", "actor_id", actorID, "role", role, "geohash", rec.Geohash)
	for _, o := range c.LocationObservers {
		o.LocationReported(rec)
	}
	return nil
}

// GetRideStatus returns the rider's active request, joined with the matched
// driver's last known position when there is one.
func (c *Coordinator) GetRideStatus(riderID string) (models.RideStatusView, error) {
	req, err := c.Ledger.ActiveForRider(riderID)
	if err != nil {
		return models.RideStatusView{}, err
	}
	view := models.RideStatusView{Request: req}
	if req.Status != models.StatusMatched {
		return view, nil
	}
	rec, err := c.Locations.Get(req.MatchedDriverID)
	if err != nil {
		// matched before the driver ever reported a position
		return view, nil
	}
	dist := geo.RoundKm(geo.DistanceKm(rec.Loc, req.Pickup))
	secs := eta.EstimateSeconds(rec.Loc, req.Pickup, c.SpeedMps)
	view.DriverLocation = &rec
	view.DriverDistanceKm = &dist
	view.DriverETASeconds = &secs
	return view, nil
}

// AutoMatch binds an open request to the nearest driver not already on a
// matched ride. A driver claimed by a concurrent match is skipped and the
// next nearest tried. It is meant for the dispatch loop, not location ticks.
func (c *Coordinator) AutoMatch(requestID string) (string, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	req, err := c.Ledger.Get(requestID)
	if err != nil {
		return "", err
	}
	if req.Status != models.StatusOpen {
		return "", fmt.Errorf("request %s is %s: %w", requestID, req.Status, models.ErrInvalidTransition)
	}
	excluded := c.Ledger.BusyDrivers()
	for {
		cand, err := c.Matcher.FindNearestDriver(req.Pickup, excluded)
		if err != nil {
			return "", err
		}
		matched, err := c.Ledger.Match(requestID, cand.DriverID)
		if errors.Is(err, models.ErrDriverBusy) {
			// taken by a concurrent match since the snapshot
			excluded[cand.DriverID] = struct{}{}
			continue
		}
		if err != nil {
			return "", err
		}
		observability.MatchesTotal.Inc()
		c.Logger.Info("ride_matched", "ride_id", requestID, "driver_id", cand.DriverID, "distance_km", geo.RoundKm(cand.DistanceKm))
		c.rideChanged(matched)
		return cand.DriverID, nil
	}
}

func (c *Coordinator) ListOpenRequests(near *models.Coord, limit int) []models.RideRequest {
	return c.Ledger.ListOpen(near, limit)
}

func (c *Coordinator) NearbyDrivers(pickup models.Coord, limit int) []matcher.Candidate {
	return c.Matcher.Nearby(pickup, limit)
}

func (c *Coordinator) rideChanged(r models.RideRequest) {
	observability.RideTransitions.WithLabelValues(string(r.Status)).Inc()
	for _, o := range c.RideObservers {
		o.RideChanged(r)
	}
}
