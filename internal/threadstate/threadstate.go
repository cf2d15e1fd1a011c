// Package threadstate tracks, per session, the single in-flight listener
// allowed to stream a turn's events plus the set of connections currently
// subscribed to that session's notifications.
package threadstate

import "sync"

// SessionID identifies a conversation/session.
type SessionID string

// ConnectionID identifies an external transport connection (e.g. one
// JSON-RPC client socket).
type ConnectionID string

// Listener is the handle a ThreadState holds for whoever currently owns
// the right to stream a turn. Go has no weak references, so instead of the
// Rust original's Weak<CodexConversation> we hold a generation-tagged
// handle: Matches compares identity by generation, and a stale handle
// naturally fails to match once a newer one replaces it.
type Listener struct {
	generation uint64
}

// cancelFunc is invoked to cooperatively cancel whatever the current
// listener is doing, mirroring the Rust oneshot::Sender<()> cancel_tx.
type cancelFunc func()

// State holds the per-session listener/cancel/subscriber bookkeeping.
// Guarded by its own mutex, distinct from the manager's outer map lock, so
// that a caller who already holds the map lock can still safely manipulate
// per-session state without risking a broader stall.
type State struct {
	mu sync.Mutex

	nextGeneration uint64
	listener       *Listener
	cancel         cancelFunc

	subscribers map[ConnectionID]struct{}
}

func newState() *State {
	return &State{subscribers: make(map[ConnectionID]struct{})}
}

// SetListener installs a new listener, firing and replacing any previous
// cancel function. Returns the new Listener handle.
func (s *State) SetListener(cancel cancelFunc) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.nextGeneration++
	l := &Listener{generation: s.nextGeneration}
	s.listener = l
	s.cancel = cancel
	return l
}

// ClearListener fires the current cancel function (if any) and clears the
// listener, regardless of which listener is currently installed.
func (s *State) ClearListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.listener = nil
}

// ListenerMatches reports whether l is still the current listener.
func (s *State) ListenerMatches(l *Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && l != nil && s.listener.generation == l.generation
}

// AddConnection records a subscriber connection.
func (s *State) AddConnection(id ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = struct{}{}
}

// RemoveConnection drops a subscriber connection and reports whether the
// subscriber set is now empty.
func (s *State) RemoveConnection(id ConnectionID) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
	return len(s.subscribers) == 0
}

// SubscribedConnectionIDs returns a snapshot of current subscribers.
func (s *State) SubscribedConnectionIDs() []ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionID, 0, len(s.subscribers))
	for id := range s.subscribers {
		out = append(out, id)
	}
	return out
}

// Manager owns the session->State map and the reverse connection->sessions
// index needed to clean up efficiently when a connection drops.
type Manager struct {
	mu           sync.Mutex
	states       map[SessionID]*State
	byConnection map[ConnectionID]map[SessionID]struct{}
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		states:       make(map[SessionID]*State),
		byConnection: make(map[ConnectionID]map[SessionID]struct{}),
	}
}

// ThreadState returns the State for id, creating it on first access.
func (m *Manager) ThreadState(id SessionID) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = newState()
		m.states[id] = st
	}
	return st
}

// EnsureConnectionSubscribed records that connID is subscribed to session
// id and returns that session's State.
func (m *Manager) EnsureConnectionSubscribed(id SessionID, connID ConnectionID) *State {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		st = newState()
		m.states[id] = st
	}
	sessions, ok := m.byConnection[connID]
	if !ok {
		sessions = make(map[SessionID]struct{})
		m.byConnection[connID] = sessions
	}
	sessions[id] = struct{}{}
	m.mu.Unlock()

	st.AddConnection(connID)
	return st
}

// RemoveConnection drops connID from every session it was subscribed to.
// Any session left with no subscribers has its listener cleared (there is
// no one left to deliver events to, so any outstanding streaming attempt
// is cancelled).
func (m *Manager) RemoveConnection(connID ConnectionID) {
	m.mu.Lock()
	sessions := m.byConnection[connID]
	delete(m.byConnection, connID)
	states := make(map[SessionID]*State, len(sessions))
	for id := range sessions {
		if st, ok := m.states[id]; ok {
			states[id] = st
		}
	}
	m.mu.Unlock()

	for _, st := range states {
		if empty := st.RemoveConnection(connID); empty {
			st.ClearListener()
		}
	}
}
