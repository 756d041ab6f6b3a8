package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 16
)

// DriverLocator resolves a driver's last known position for offer payloads.
type DriverLocator interface {
	Get(actorID string) (models.LocationRecord, error)
}

// WSSession is one connected driver. Writes go through a small queue drained
// by a dedicated goroutine, so a slow socket never stalls the caller.
type WSSession struct {
	conn *websocket.Conn
	send chan models.MatchOffer
	once sync.Once
	done chan struct{}
}

func newSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn, send: make(chan models.MatchOffer, sendBacklog), done: make(chan struct{})}
}

// enqueue reports false when the session is closed or its backlog is full.
func (s *WSSession) enqueue(offer models.MatchOffer) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- offer:
		return true
	default:
		return false
	}
}

func (s *WSSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *WSSession) writePump(onExit func()) {
	defer onExit()
	for {
		select {
		case <-s.done:
			return
		case offer := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(offer); err != nil {
				return
			}
		}
	}
}

// readPump drains control frames and notices when the driver goes away.
func (s *WSSession) readPump(onExit func()) {
	defer onExit()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WSRegistry holds driver sessions and pushes a MatchOffer to a driver when a
// ride is matched to them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	locator  DriverLocator
	logger   *slog.Logger
}

func NewWSRegistry(locator DriverLocator, logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), locator: locator, logger: logger}
}

// Add registers conn for driverID, replacing any previous session.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	s := newSession(conn)
	r.mu.Lock()
	if old, ok := r.sessions[driverID]; ok {
		old.close()
	}
	r.sessions[driverID] = s
	r.mu.Unlock()

	remove := func() { r.remove(driverID, s) }
	go s.writePump(remove)
	go s.readPump(remove)
}

func (r *WSRegistry) remove(driverID string, s *WSSession) {
	s.close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[driverID]; ok && cur == s {
		delete(r.sessions, driverID)
	}
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *WSRegistry) Offer(driverID string, offer models.MatchOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if !s.enqueue(offer) {
		return ErrSessionBusy
	}
	return nil
}

// RideChanged implements coordinator.RideObserver.
func (r *WSRegistry) RideChanged(req models.RideRequest) {
	if req.Status != models.StatusMatched {
		return
	}
	offer := models.MatchOffer{RideID: req.ID, DriverID: req.MatchedDriverID, RiderID: req.RiderID, Pickup: req.Pickup}
	if r.locator != nil {
		if rec, err := r.locator.Get(req.MatchedDriverID); err == nil {
			offer.DistanceKm = geo.RoundKm(geo.DistanceKm(rec.Loc, req.Pickup))
		}
	}
	if err := r.Offer(req.MatchedDriverID, offer); err != nil {
		r.logger.Debug("match offer not delivered", "ride_id", req.ID, "driver_id", req.MatchedDriverID, "error", err)
	}
}

var (
	ErrNoSession   = &SessionError{msg: "no ws session"}
	ErrSessionBusy = &SessionError{msg: "ws session backlog full"}
)

type SessionError struct{ msg string }

func (e *SessionError) Error() string { return e.msg }
