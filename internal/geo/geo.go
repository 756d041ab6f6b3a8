package geo

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-coordinator/internal/models"
)

// EarthRadiusKm is the sphere radius used for every distance in the service.
const EarthRadiusKm = 6371.0

// CellPrecision is the geohash length stored alongside locations (~150m cells).
const CellPrecision = 7

// Haversine returns the great-circle distance in kilometers between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// RoundKm rounds to one decimal place. Display only; never compare rounded values.
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// Validate rejects latitudes outside [-90,90], longitudes outside [-180,180] and NaNs.
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v: %w", c.Lat, models.ErrInvalidCoordinate)
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v: %w", c.Lon, models.ErrInvalidCoordinate)
	}
	return nil
}

// Cell encodes c as a geohash of CellPrecision characters.
func Cell(c models.Coord) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, CellPrecision)
}
