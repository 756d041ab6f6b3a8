package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/observability"
)

// Matcher is the slice of the coordinator the loop drives.
type Matcher interface {
	ListOpenRequests(near *models.Coord, limit int) []models.RideRequest
	AutoMatch(requestID string) (string, error)
}

// Loop periodically tries to match every open request. It runs on its own
// cadence, independent of location updates, so a burst of location reports
// never multiplies matching work. Requests with no driver stay open and are
// retried on the next tick.
type Loop struct {
	Matcher  Matcher
	Interval time.Duration
	Workers  int // concurrent autoMatch calls per tick
	Batch    int // max requests per tick, oldest first; <= 0 means all
	Logger   *slog.Logger
}

type TickResult struct {
	Matched   int
	Waiting   int // no driver available
	Conflicts int // request changed under us (accepted or cancelled)
	Failed    int
}

func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	l.Logger.Info("dispatch loop started", "interval", interval.String(), "workers", l.workers())
	for {
		select {
		case <-ctx.Done():
			l.Logger.Info("dispatch loop stopped")
			return nil
		case <-t.C:
			res := l.Tick(ctx)
			if res.Matched+res.Failed > 0 {
				l.Logger.Info("dispatch tick", "matched", res.Matched, "waiting", res.Waiting, "conflicts", res.Conflicts, "failed", res.Failed)
			}
		}
	}
}

// Tick makes one pass over the open requests.
func (l *Loop) Tick(ctx context.Context) TickResult {
	var matched, waiting, conflicts, failed int64
	var g errgroup.Group
	g.SetLimit(l.workers())

	for _, req := range l.Matcher.ListOpenRequests(nil, l.Batch) {
		if ctx.Err() != nil {
			break
		}
		id := req.ID
		g.Go(func() error {
			driverID, err := l.Matcher.AutoMatch(id)
			switch {
			case err == nil:
				atomic.AddInt64(&matched, 1)
				observability.DispatchAttempts.WithLabelValues("matched").Inc()
				l.Logger.Debug("dispatch matched", "ride_id", id, "driver_id", driverID)
			case errors.Is(err, models.ErrNoDriverAvailable):
				atomic.AddInt64(&waiting, 1)
				observability.DispatchAttempts.WithLabelValues("no_driver").Inc()
			case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrRequestNotFound):
				atomic.AddInt64(&conflicts, 1)
				observability.DispatchAttempts.WithLabelValues("conflict").Inc()
			default:
				atomic.AddInt64(&failed, 1)
				observability.DispatchAttempts.WithLabelValues("error").Inc()
				l.Logger.Error("dispatch failed", "ride_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return TickResult{Matched: int(matched), Waiting: int(waiting), Conflicts: int(conflicts), Failed: int(failed)}
}

func (l *Loop) workers() int {
	if l.Workers <= 0 {
		return 1
	}
	return l.Workers
}
