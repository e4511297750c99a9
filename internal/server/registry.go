package server

import (
	"errors"
	"sync"
)

// Session is one registered transfer connection: its protocol kind plus the
// connection handle. The slot index is registry bookkeeping.
type Session struct {
	Protocol Protocol
	Conn     *Connection

	slot int
}

// Registry tracks every active transfer session in a densely packed slice.
// Removal swaps with the last element, so slots stay compact; each session
// record carries its own slot index and is updated when displaced. The
// backing array grows by 1.5x and never shrinks.
type Registry struct {
	mu       sync.Mutex
	sessions []*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a connection under the given protocol and returns its
// session record.
func (r *Registry) Add(protocol Protocol, conn *Connection) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) == cap(r.sessions) {
		next := cap(r.sessions) + cap(r.sessions)/2
		if next < 8 {
			next = 8
		}
		grown := make([]*Session, len(r.sessions), next)
		copy(grown, r.sessions)
		r.sessions = grown
	}

	s := &Session{Protocol: protocol, Conn: conn, slot: len(r.sessions)}
	r.sessions = append(r.sessions, s)
	return s
}

// Remove deregisters a session. The last session takes over the freed slot.
// Removing a session twice is a no-op.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.slot < 0 {
		return
	}

	last := len(r.sessions) - 1
	if s.slot != last {
		moved := r.sessions[last]
		r.sessions[s.slot] = moved
		moved.slot = s.slot
	}
	r.sessions[last] = nil
	r.sessions = r.sessions[:last]
	s.slot = -1
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Count returns the number of registered sessions for one protocol.
func (r *Registry) Count(protocol Protocol) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if s.Protocol == protocol {
			n++
		}
	}
	return n
}

// CloseAll abruptly closes every registered connection. Sessions stay
// registered until their pump goroutines observe the close and remove
// themselves.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := make([]*Connection, len(r.sessions))
	for i, s := range r.sessions {
		conns[i] = s.Conn
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
