package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/models"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type flakyStore struct {
	mu    sync.Mutex
	saved []models.RideRequest
	fail  bool
}

func (f *flakyStore) SaveRide(_ context.Context, r models.RideRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *flakyStore) ListRides(context.Context) ([]models.RideRequest, error) { return nil, nil }

func (f *flakyStore) snapshot() []models.RideRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RideRequest(nil), f.saved...)
}

func TestJournalPersistsInOrder(t *testing.T) {
	store := NewMemoryStore()
	j := NewJournal(store, 8, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = j.Run(ctx); close(done) }()

	r := models.RideRequest{ID: "ride-1", RiderID: "r1", Status: models.StatusOpen, CreatedAt: time.Now()}
	j.RideChanged(r)
	r.Status = models.StatusMatched
	r.MatchedDriverID = "d1"
	j.RideChanged(r)

	require.Eventually(t, func() bool {
		got, ok := store.Get("ride-1")
		return ok && got.Status == models.StatusMatched
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	got, _ := store.Get("ride-1")
	assert.Equal(t, "d1", got.MatchedDriverID)
}

func TestJournalFlushesOnShutdown(t *testing.T) {
	store := &flakyStore{}
	j := NewJournal(store, 8, discardLogger())
	for i := 0; i < 5; i++ {
		j.RideChanged(models.RideRequest{ID: "ride", Status: models.StatusOpen})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))
	assert.Len(t, store.snapshot(), 5)
}

func TestJournalDropsWhenFull(t *testing.T) {
	store := &flakyStore{}
	j := NewJournal(store, 2, discardLogger())
	for i := 0; i < 5; i++ {
		j.RideChanged(models.RideRequest{ID: "ride"})
	}
	assert.Len(t, j.queue, 2)
}

func TestJournalSurvivesStoreErrors(t *testing.T) {
	store := &flakyStore{fail: true}
	j := NewJournal(store, 4, discardLogger())
	j.RideChanged(models.RideRequest{ID: "ride"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))
	assert.Empty(t, store.snapshot())
}

func TestMemoryStoreListRidesOrdered(t *testing.T) {
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, s.SaveRide(ctx, models.RideRequest{ID: "b", CreatedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.SaveRide(ctx, models.RideRequest{ID: "a", CreatedAt: t0}))

	rides, err := s.ListRides(ctx)
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, "a", rides[0].ID)
	assert.Equal(t, "b", rides[1].ID)
}

func TestMemoryStoreKeepsNewerRecord(t *testing.T) {
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	matched := models.RideRequest{ID: "a", Status: models.StatusMatched, MatchedDriverID: "d1", UpdatedAt: t0.Add(time.Second)}
	open := models.RideRequest{ID: "a", Status: models.StatusOpen, UpdatedAt: t0}

	require.NoError(t, s.SaveRide(ctx, matched))
	require.NoError(t, s.SaveRide(ctx, open))
	got, _ := s.Get("a")
	assert.Equal(t, models.StatusMatched, got.Status)

	completed := matched
	completed.Status = models.StatusCompleted
	completed.UpdatedAt = t0.Add(2 * time.Second)
	require.NoError(t, s.SaveRide(ctx, completed))
	got, _ = s.Get("a")
	assert.Equal(t, models.StatusCompleted, got.Status)
}
