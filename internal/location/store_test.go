package location

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/models"
)

func TestReportThenGetRoundTrip(t *testing.T) {
	s := NewStore()
	t1 := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

	_, err := s.Report("d1", models.RoleDriver, 37.7749, -122.4194, t1)
	require.NoError(t, err)

	rec, err := s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.ActorID)
	assert.Equal(t, models.RoleDriver, rec.Role)
	assert.Equal(t, models.Coord{Lat: 37.7749, Lon: -122.4194}, rec.Loc)
	assert.Equal(t, t1, rec.UpdatedAt)
	assert.NotEmpty(t, rec.Geohash)
}

func TestReportOverwritesInPlace(t *testing.T) {
	s := NewStore()
	t1 := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

	_, err := s.Report("d1", models.RoleDriver, 37.7749, -122.4194, t1)
	require.NoError(t, err)
	_, err = s.Report("d1", models.RoleDriver, 37.8, -122.5, t1.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Count())
	rec, err := s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, models.Coord{Lat: 37.8, Lon: -122.5}, rec.Loc)
	assert.Equal(t, t1.Add(time.Minute), rec.UpdatedAt)
}

func TestReportIsIdempotent(t *testing.T) {
	s := NewStore()
	ts := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

	first, err := s.Report("d1", models.RoleDriver, 1, 2, ts)
	require.NoError(t, err)
	second, err := s.Report("d1", models.RoleDriver, 1, 2, ts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Count())
}

func TestReportRejectsInvalidCoordinate(t *testing.T) {
	s := NewStore()
	_, err := s.Report("d1", models.RoleDriver, 91, 0, time.Now())
	require.ErrorIs(t, err, models.ErrInvalidCoordinate)
	_, err = s.Report("d1", models.RoleDriver, 0, -180.01, time.Now())
	require.ErrorIs(t, err, models.ErrInvalidCoordinate)

	_, err = s.Get("d1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReportInvalidKeepsPreviousRecord(t *testing.T) {
	s := NewStore()
	ts := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)
	_, err := s.Report("d1", models.RoleDriver, 1, 2, ts)
	require.NoError(t, err)

	_, err = s.Report("d1", models.RoleDriver, 100, 2, ts.Add(time.Second))
	require.ErrorIs(t, err, models.ErrInvalidCoordinate)

	rec, err := s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, models.Coord{Lat: 1, Lon: 2}, rec.Loc)
}

func TestReportZeroTimestampUsesClock(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	rec, err := s.Report("r1", models.RoleRider, 1, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.UpdatedAt)
}

func TestGetUnknownActor(t *testing.T) {
	_, err := NewStore().Get("ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListDriverLocationsSkipsRiders(t *testing.T) {
	s := NewStore()
	now := time.Now()
	_, _ = s.Report("d1", models.RoleDriver, 1, 1, now)
	_, _ = s.Report("d2", models.RoleDriver, 2, 2, now)
	_, _ = s.Report("r1", models.RoleRider, 3, 3, now)

	ids := []string{}
	for _, rec := range s.ListDriverLocations() {
		ids = append(ids, rec.ActorID)
	}
	assert.ElementsMatch(t, []string{"d1", "d2"}, ids)
}

func TestConcurrentReportsKeepOneRecordPerActor(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%d", i%5)
			_, err := s.Report(id, models.RoleDriver, float64(i%90), float64(i), time.Now())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Count())
	assert.Len(t, s.ListDriverLocations(), 5)
}
