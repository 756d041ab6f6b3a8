package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

func EncodeLocation(rec models.LocationRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeLocation parses and validates a location event from the topic.
func DecodeLocation(b []byte) (models.LocationRecord, error) {
	var rec models.LocationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return models.LocationRecord{}, fmt.Errorf("decode location: %w", err)
	}
	if rec.ActorID == "" {
		return models.LocationRecord{}, errors.New("decode location: missing actor_id")
	}
	if err := geo.Validate(rec.Loc); err != nil {
		return models.LocationRecord{}, fmt.Errorf("decode location %s: %w", rec.ActorID, err)
	}
	if rec.Role == "" {
		rec.Role = models.RoleDriver
	}
	if rec.Geohash == "" {
		rec.Geohash = geo.Cell(rec.Loc)
	}
	return rec, nil
}
