package dispatch

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/freight-matching/internal/models"
)

// WSSession is a connected customer session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.BidEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds live customer sessions for bid outcome pushes. Customers
// without a session get their events through the notifier consumer instead.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[uuid.UUID]*WSSession)}
}

func (r *WSRegistry) Add(customerID uuid.UUID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[customerID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[customerID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(customerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, customerID)
}

func (r *WSRegistry) Notify(customerID uuid.UUID, ev models.BidEvent) error {
	r.mu.RLock()
	s, ok := r.sessions[customerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		r.Remove(customerID)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
