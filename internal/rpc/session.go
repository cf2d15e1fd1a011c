package rpc

import (
	"fmt"

	"github.com/samsaffron/term-llm/internal/threadstate"
	"github.com/samsaffron/term-llm/internal/turn"
)

// SessionNewParams are the decoded params of a session/new request.
type SessionNewParams struct {
	Model string `json:"model,omitempty"`
}

// SessionNewResult is the decoded result of a session/new response.
type SessionNewResult struct {
	SessionID string `json:"session_id"`
}

// SessionNew mints a new session and its scheduler.
func (s *Server) SessionNew(params SessionNewParams) (SessionNewResult, *Error) {
	id := newSessionID()

	var scheduler *turn.Scheduler
	if s.newSched != nil {
		sched, err := s.newSched(params.Model)
		if err != nil {
			return SessionNewResult{}, &Error{Code: InvalidRequestErrorCode, Message: fmt.Sprintf("cannot start session for model %q: %s", params.Model, err)}
		}
		scheduler = sched
	}

	s.sessionsMu.Lock()
	s.sessions[id] = &sessionState{scheduler: scheduler}
	s.sessionsMu.Unlock()

	s.threads.ThreadState(id)
	return SessionNewResult{SessionID: string(id)}, nil
}

// SessionAttachParams are the decoded params of a session/attach request.
type SessionAttachParams struct {
	SessionID string `json:"session_id"`
}

// SessionAttach subscribes connID to session notifications.
func (s *Server) SessionAttach(connID threadstate.ConnectionID, params SessionAttachParams) *Error {
	if params.SessionID == "" {
		return &Error{Code: InvalidRequestErrorCode, Message: "session_id is required"}
	}
	s.threads.EnsureConnectionSubscribed(threadstate.SessionID(params.SessionID), connID)
	return nil
}

// SessionDetach unsubscribes connID from every session, cancelling any
// in-flight listener that had no other subscriber left.
func (s *Server) SessionDetach(connID threadstate.ConnectionID) {
	s.threads.RemoveConnection(connID)
}

func (s *Server) session(id threadstate.SessionID) (*sessionState, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	st, ok := s.sessions[id]
	return st, ok
}
