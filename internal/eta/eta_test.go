package eta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/models"
)

var (
	from = models.Coord{Lat: 0, Lon: 0}
	to   = models.Coord{Lat: 1, Lon: 0}
)

func TestEstimateSecondsStraightLine(t *testing.T) {
	// 111.19 km at 10 m/s
	assert.InDelta(t, 11119.5, EstimateSeconds(from, to, 10), 1)
	assert.InDelta(t, 11119.5*10/DefaultSpeedMps, EstimateSeconds(from, to, 0), 1)
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	c.Set(from, to, 42)
	v, ok := c.Get(from, to)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = c.Get(to, from)
	assert.False(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get(from, to)
	assert.False(t, ok)
}

type stubClient struct {
	v     float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(context.Context, models.Coord, models.Coord) (float64, error) {
	s.calls++
	return s.v, s.err
}

func TestEstimatorUsesClientThenCache(t *testing.T) {
	c := &stubClient{v: 300}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), SpeedMps: 10}

	assert.Equal(t, 300.0, e.Estimate(context.Background(), from, to))
	assert.Equal(t, 300.0, e.Estimate(context.Background(), from, to))
	assert.Equal(t, 1, c.calls)
}

func TestEstimatorFallsBackOnClientError(t *testing.T) {
	e := &Estimator{Client: &stubClient{err: errors.New("down")}, SpeedMps: 10}
	assert.InDelta(t, 11119.5, e.Estimate(context.Background(), from, to), 1)
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route/v1/driving/0.000000,0.000000;0.000000,1.000000", r.URL.Path)
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":812.5}]}`)
	}))
	defer srv.Close()

	v, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 812.5, v)
}

func TestOSRMClientNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), from, to)
	assert.Error(t, err)
}
