package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/coordinator"
	"github.com/example/ride-coordinator/internal/ledger"
	"github.com/example/ride-coordinator/internal/location"
	"github.com/example/ride-coordinator/internal/models"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type scriptedMatcher struct {
	mu      sync.Mutex
	open    []models.RideRequest
	results map[string]error
	calls   []string
}

func (s *scriptedMatcher) ListOpenRequests(_ *models.Coord, limit int) []models.RideRequest {
	if limit > 0 && len(s.open) > limit {
		return s.open[:limit]
	}
	return s.open
}

func (s *scriptedMatcher) AutoMatch(id string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.mu.Unlock()
	if err := s.results[id]; err != nil {
		return "", err
	}
	return "d-" + id, nil
}

func TestTickClassifiesOutcomes(t *testing.T) {
	m := &scriptedMatcher{
		open: []models.RideRequest{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		results: map[string]error{
			"b": models.ErrNoDriverAvailable,
			"c": models.ErrInvalidTransition,
			"d": errors.New("boom"),
		},
	}
	l := &Loop{Matcher: m, Workers: 2, Logger: discardLogger()}

	res := l.Tick(context.Background())
	assert.Equal(t, TickResult{Matched: 1, Waiting: 1, Conflicts: 1, Failed: 1}, res)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, m.calls)
}

func TestTickRespectsBatch(t *testing.T) {
	m := &scriptedMatcher{open: []models.RideRequest{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	l := &Loop{Matcher: m, Batch: 2, Logger: discardLogger()}

	res := l.Tick(context.Background())
	assert.Equal(t, 2, res.Matched)
	assert.Len(t, m.calls, 2)
}

func TestLoopMatchesAgainstCoordinator(t *testing.T) {
	c := coordinator.New(location.NewStore(), ledger.New(), nil)
	req, err := c.RequestRide("R", models.Coord{Lat: 40.0, Lon: -74.0})
	require.NoError(t, err)

	l := &Loop{Matcher: c, Interval: 10 * time.Millisecond, Workers: 4, Logger: discardLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	// nothing to match yet, the request must stay open across ticks
	time.Sleep(30 * time.Millisecond)
	got, _ := c.Ledger.Get(req.ID)
	assert.Equal(t, models.StatusOpen, got.Status)

	require.NoError(t, c.ReportDriverLocation("D1", 40.001, -74.001, time.Now()))
	require.Eventually(t, func() bool {
		got, _ := c.Ledger.Get(req.ID)
		return got.Status == models.StatusMatched && got.MatchedDriverID == "D1"
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestTickNeverDoubleBooksDriver(t *testing.T) {
	for round := 0; round < 20; round++ {
		c := coordinator.New(location.NewStore(), ledger.New(), nil)
		require.NoError(t, c.ReportDriverLocation("D1", 40.0, -74.0, time.Time{}))
		for i := 0; i < 8; i++ {
			_, err := c.RequestRide(fmt.Sprintf("R%d", i), models.Coord{Lat: 40.0, Lon: -74.0})
			require.NoError(t, err)
		}

		l := &Loop{Matcher: c, Workers: 8, Logger: discardLogger()}
		res := l.Tick(context.Background())

		require.Equal(t, TickResult{Matched: 1, Waiting: 7}, res, "round %d", round)
		assert.Equal(t, map[string]struct{}{"D1": {}}, c.Ledger.BusyDrivers())
	}
}
