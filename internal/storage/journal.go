package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/observability"
)

// Journal writes ride records to a TripStore behind a bounded queue, so the
// coordinator never waits on the database. A single worker keeps writes for
// the same ride in commit order. When the queue is full the record is dropped
// and counted; the next change to that ride carries the full state again.
type Journal struct {
	store   TripStore
	queue   chan models.RideRequest
	timeout time.Duration
	logger  *slog.Logger
}

func NewJournal(store TripStore, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Journal{store: store, queue: make(chan models.RideRequest, buffer), timeout: 2 * time.Second, logger: logger}
}

// RideChanged enqueues r without blocking.
func (j *Journal) RideChanged(r models.RideRequest) {
	select {
	case j.queue <- r:
	default:
		observability.JournalDropped.Inc()
		j.logger.Warn("journal queue full, dropping ride record", "ride_id", r.ID, "status", r.Status)
	}
}

// Run persists queued records until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case r := <-j.queue:
			j.save(r)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case r := <-j.queue:
			j.save(r)
		default:
			return
		}
	}
}

func (j *Journal) save(r models.RideRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.store.SaveRide(ctx, r); err != nil {
		observability.JournalErrors.Inc()
		j.logger.Error("journal save failed", "ride_id", r.ID, "status", r.Status, "error", err)
	}
}
