package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-coordinator/internal/coordinator"
	"github.com/example/ride-coordinator/internal/dispatch"
	"github.com/example/ride-coordinator/internal/eta"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

const defaultListLimit = 10

type Server struct {
	Coord  *coordinator.Coordinator
	WSReg  *dispatch.WSRegistry // optional
	ETA    *eta.Estimator       // optional; refines the straight-line ETA
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(c *coordinator.Coordinator, ws *dispatch.WSRegistry, est *eta.Estimator, logger *slog.Logger) *Server {
	s := &Server{Coord: c, WSReg: ws, ETA: est, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/open", s.handleListOpen).Methods(http.MethodGet)
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/match", s.handleAutoMatch).Methods(http.MethodPost)
	api.HandleFunc("/riders/{rider_id}/ride", s.handleRideStatus).Methods(http.MethodGet)
	api.HandleFunc("/riders/{rider_id}/ride", s.handleCancel).Methods(http.MethodDelete)
	api.HandleFunc("/riders/{rider_id}/location", s.handleRiderLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type locationBody struct {
	ID  string     `json:"id"`
	Lat *float64   `json:"lat"`
	Lon *float64   `json:"lon"`
	TS  *time.Time `json:"ts,omitempty"`
}

func (b locationBody) timestamp() time.Time {
	if b.TS == nil {
		return time.Time{}
	}
	return *b.TS
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !decode(w, r, &body) {
		return
	}
	if body.ID == "" || body.Lat == nil || body.Lon == nil {
		writeJSONError(w, http.StatusBadRequest, "id, lat and lon are required")
		return
	}
	if err := s.Coord.ReportDriverLocation(body.ID, *body.Lat, *body.Lon, body.timestamp()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRiderLocation(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !decode(w, r, &body) {
		return
	}
	if body.Lat == nil || body.Lon == nil {
		writeJSONError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	if err := s.Coord.ReportRiderLocation(mux.Vars(r)["rider_id"], *body.Lat, *body.Lon, body.timestamp()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rideRequestBody struct {
	RiderID string   `json:"rider_id"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if !decode(w, r, &body) {
		return
	}
	if body.RiderID == "" || body.Lat == nil || body.Lon == nil {
		writeJSONError(w, http.StatusBadRequest, "rider_id, lat and lon are required")
		return
	}
	req, err := s.Coord.RequestRide(body.RiderID, models.Coord{Lat: *body.Lat, Lon: *body.Lon})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Coord.CancelRide(mux.Vars(r)["rider_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.DriverID == "" {
		writeJSONError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	if _, err := s.Coord.AcceptRide(body.DriverID, mux.Vars(r)["ride_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Coord.CompleteRide(mux.Vars(r)["ride_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutoMatch(w http.ResponseWriter, r *http.Request) {
	driverID, err := s.Coord.AutoMatch(mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"driver_id": driverID})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Coord.GetRideStatus(mux.Vars(r)["rider_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.ETA != nil && view.DriverLocation != nil {
		secs := s.ETA.Estimate(r.Context(), view.DriverLocation.Loc, view.Request.Pickup)
		view.DriverETASeconds = &secs
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	near, limit, ok := parsePointQuery(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": nonNil(s.Coord.ListOpenRequests(near, limit))})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	near, limit, ok := parsePointQuery(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": s.Coord.NearbyDrivers(*near, limit)})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSReg == nil {
		writeJSONError(w, http.StatusNotFound, "websocket offers disabled")
		return
	}
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.logger.Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
}

// parsePointQuery reads optional lat/lon/limit query parameters. lat and lon
// must come together; required forces them to be present.
func parsePointQuery(w http.ResponseWriter, r *http.Request, required bool) (*models.Coord, int, bool) {
	q := r.URL.Query()
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return nil, 0, false
		}
		limit = n
	}
	latS, lonS := q.Get("lat"), q.Get("lon")
	if latS == "" && lonS == "" && !required {
		return nil, limit, true
	}
	lat, errLat := strconv.ParseFloat(latS, 64)
	lon, errLon := strconv.ParseFloat(lonS, 64)
	if errLat != nil || errLon != nil {
		writeJSONError(w, http.StatusBadRequest, "lat and lon must be numbers")
		return nil, 0, false
	}
	point := models.Coord{Lat: lat, Lon: lon}
	if err := geo.Validate(point); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, 0, false
	}
	return &point, limit, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDuplicateActiveRequest), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrRequestNotFound), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoDriverAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", requestIDFromContext(r.Context()))
		writeJSONError(w, code, "internal error")
		return
	}
	writeJSONError(w, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func nonNil(rs []models.RideRequest) []models.RideRequest {
	if rs == nil {
		return []models.RideRequest{}
	}
	return rs
}
