package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/models"
)

type fixedLocator map[string]models.LocationRecord

func (f fixedLocator) Get(id string) (models.LocationRecord, error) {
	rec, ok := f[id]
	if !ok {
		return models.LocationRecord{}, models.ErrNotFound
	}
	return rec, nil
}

func connectDriver(t *testing.T, reg *WSRegistry, driverID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add(driverID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.Eventually(t, func() bool { return reg.Connected(driverID) }, time.Second, 5*time.Millisecond)
	return client
}

func TestRegistryPushesOfferOnMatch(t *testing.T) {
	reg := NewWSRegistry(fixedLocator{"d1": {ActorID: "d1", Loc: models.Coord{Lat: 40.001, Lon: -74.001}}}, discardLogger())
	client := connectDriver(t, reg, "d1")

	reg.RideChanged(models.RideRequest{ID: "ride-1", RiderID: "r1", Status: models.StatusOpen})
	reg.RideChanged(models.RideRequest{ID: "ride-1", RiderID: "r1", Status: models.StatusMatched, MatchedDriverID: "d1", Pickup: models.Coord{Lat: 40.0, Lon: -74.0}})

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	var offer models.MatchOffer
	require.NoError(t, client.ReadJSON(&offer))
	assert.Equal(t, "ride-1", offer.RideID)
	assert.Equal(t, "d1", offer.DriverID)
	assert.Equal(t, "r1", offer.RiderID)
	assert.Equal(t, 0.1, offer.DistanceKm)
}

func TestOfferWithoutSession(t *testing.T) {
	reg := NewWSRegistry(nil, discardLogger())
	err := reg.Offer("ghost", models.MatchOffer{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionRemovedWhenDriverDisconnects(t *testing.T) {
	reg := NewWSRegistry(nil, discardLogger())
	client := connectDriver(t, reg, "d1")
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool { return !reg.Connected("d1") }, time.Second, 5*time.Millisecond)
}
