package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-coordinator/internal/models"
)

type captureWriter struct{ msgs []kafka.Message }

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestProducerPublishesDriversOnly(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaProducer{writer: w, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ts := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)
	p.LocationReported(models.LocationRecord{ActorID: "d1", Role: models.RoleDriver, Loc: models.Coord{Lat: 1, Lon: 2}, UpdatedAt: ts})
	p.LocationReported(models.LocationRecord{ActorID: "r1", Role: models.RoleRider, Loc: models.Coord{Lat: 1, Lon: 2}, UpdatedAt: ts})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "d1", string(w.msgs[0].Key))

	rec, err := DecodeLocation(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.ActorID)
	assert.Equal(t, ts, rec.UpdatedAt)
}

func TestDecodeLocationRejectsBadEvents(t *testing.T) {
	_, err := DecodeLocation([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeLocation([]byte(`{"loc":{"lat":1,"lon":2}}`))
	assert.Error(t, err)

	_, err = DecodeLocation([]byte(`{"actor_id":"d1","loc":{"lat":100,"lon":2}}`))
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)
}

func TestDecodeLocationFillsDefaults(t *testing.T) {
	rec, err := DecodeLocation([]byte(`{"actor_id":"d1","loc":{"lat":37.7749,"lon":-122.4194}}`))
	require.NoError(t, err)
	assert.Equal(t, models.RoleDriver, rec.Role)
	assert.NotEmpty(t, rec.Geohash)
}
