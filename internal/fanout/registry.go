// internal/fanout/registry.go

package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutBuffer is the number of pending events a connection may queue before new ones are dropped.
const OutBuffer = 16

var ErrRegistryClosed = errors.New("notification registry is closed")

// Event is the JSON frame written to subscribers.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Connection is one live notification socket of a user. A user may hold several.
type Connection struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	OutChan chan []byte

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.OutChan)
	})
}

// Registry maps users to their open connections and delivers events to them.
// Delivery is best effort: a slow or full connection loses the event, and
// clients recover by re-fetching match state.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]map[*Connection]struct{}
	closed bool
	logger *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]map[*Connection]struct{}),
		logger: logger,
	}
}

// Register adds a connection for userID. cancel is invoked when the connection is
// removed or the registry shuts down.
func (r *Registry) Register(userID uuid.UUID, cancel context.CancelFunc) (*Connection, error) {
	conn := &Connection{
		ID:      uuid.New(),
		UserID:  userID,
		OutChan: make(chan []byte, OutBuffer),
		cancel:  cancel,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.conns[userID] = set
	}
	set[conn] = struct{}{}
	return conn, nil
}

// Unregister removes conn and closes its channel. Calling it twice is harmless.
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	if set, ok := r.conns[conn.UserID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.conns, conn.UserID)
		}
	}
	r.mu.Unlock()
	conn.close()
}

// Notify sends an event to every connection of userID.
func (r *Registry) Notify(userID uuid.UUID, event string, payload interface{}) {
	data, ok := r.encode(event, payload)
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.deliver(userID, event, data)
}

// NotifyMany sends the same event to several users, each at most once.
func (r *Registry) NotifyMany(userIDs []uuid.UUID, event string, payload interface{}) {
	data, ok := r.encode(event, payload)
	if !ok {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		r.deliver(id, event, data)
	}
}

// deliver must be called with r.mu held for reading. Channels are only closed
// under the write lock, so sends here never hit a closed channel.
func (r *Registry) deliver(userID uuid.UUID, event string, data []byte) {
	for conn := range r.conns[userID] {
		select {
		case conn.OutChan <- data:
		default:
			r.logger.WithFields(logrus.Fields{
				"user_id":       userID,
				"connection_id": conn.ID,
				"event":         event,
			}).Warn("notification dropped, connection buffer full")
		}
	}
}

func (r *Registry) encode(event string, payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		r.logger.WithError(err).WithField("event", event).Error("failed to encode notification")
		return nil, false
	}
	return data, true
}

// ConnectionCount returns the number of open connections of userID.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Close drops every connection and rejects further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for userID, set := range r.conns {
		for conn := range set {
			conn.close()
		}
		delete(r.conns, userID)
	}
}
