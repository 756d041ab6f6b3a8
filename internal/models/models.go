package models

import "time"

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationRecord is the last known position of one actor.
type LocationRecord struct {
	ActorID   string    `json:"actor_id"`
	Role      Role      `json:"role"`
	Loc       Coord     `json:"loc"`
	Geohash   string    `json:"geohash,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RideStatus string

const (
	StatusOpen      RideStatus = "open"
	StatusMatched   RideStatus = "matched"
	StatusCancelled RideStatus = "cancelled"
	StatusCompleted RideStatus = "completed"
)

// Active reports whether a request in this status still blocks its rider
// from opening another one.
func (s RideStatus) Active() bool {
	return s == StatusOpen || s == StatusMatched
}

type RideRequest struct {
	ID              string     `json:"id"`
	RiderID         string     `json:"rider_id"`
	Pickup          Coord      `json:"pickup"`
	Status          RideStatus `json:"status"`
	MatchedDriverID string     `json:"matched_driver_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RideStatusView is what a rider polls while waiting for or riding with a driver.
type RideStatusView struct {
	Request          RideRequest     `json:"request"`
	DriverLocation   *LocationRecord `json:"driver_location,omitempty"`
	DriverDistanceKm *float64        `json:"driver_distance_km,omitempty"`
	DriverETASeconds *float64        `json:"driver_eta_seconds,omitempty"`
}

type MatchOffer struct {
	RideID     string  `json:"ride_id"`
	DriverID   string  `json:"driver_id"`
	RiderID    string  `json:"rider_id"`
	Pickup     Coord   `json:"pickup"`
	DistanceKm float64 `json:"distance_km"`
}
