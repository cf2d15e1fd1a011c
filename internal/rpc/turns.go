package rpc

import (
	"context"
	"fmt"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/ordering"
	"github.com/samsaffron/term-llm/internal/threadstate"
	"github.com/samsaffron/term-llm/internal/turn"
)

// TurnSubmitParams are the decoded params of a turn/submit request.
type TurnSubmitParams struct {
	SessionID string        `json:"session_id"`
	Messages  []llm.Message `json:"messages"`
}

// TurnSubmitResult is the decoded result of a turn/submit response: the
// caller gets no inline output, only an id identifying the stream of
// turn/* notifications that will follow on every connection attached to
// the session.
type TurnSubmitResult struct {
	StreamID string `json:"stream_id"`
}

// TurnSubmit starts a new turn on session_id, superseding (and cancelling)
// any turn already in flight on that session — matching the single
// in-flight-listener invariant threadstate.State enforces. Events stream
// asynchronously as notifications to every connection subscribed to the
// session; TurnSubmit itself returns as soon as the turn is scheduled.
func (s *Server) TurnSubmit(ctx context.Context, connID threadstate.ConnectionID, params TurnSubmitParams) (TurnSubmitResult, *Error) {
	if params.SessionID == "" {
		return TurnSubmitResult{}, &Error{Code: InvalidRequestErrorCode, Message: "session_id is required"}
	}
	sessionID := threadstate.SessionID(params.SessionID)

	session, ok := s.session(sessionID)
	if !ok || session.scheduler == nil {
		return TurnSubmitResult{}, &Error{Code: InvalidRequestErrorCode, Message: fmt.Sprintf("no session %q (call session/new first)", params.SessionID)}
	}

	state := s.threads.EnsureConnectionSubscribed(sessionID, connID)

	attemptCtx, cancel := context.WithCancel(ctx)
	listener := state.SetListener(cancel)

	requestOrdinal := session.mintOrdinal()
	streamID := newStreamID()

	events := make(chan turn.Event, 64)
	go func() {
		defer close(events)
		if err := session.scheduler.RunTurn(attemptCtx, requestOrdinal, llm.Request{Messages: params.Messages}, events); err != nil {
			select {
			case events <- turn.Event{
				Key:   ordering.System(requestOrdinal, ordering.PosInf, 0),
				Event: llm.Event{Type: llm.EventError, Err: err},
			}:
			case <-attemptCtx.Done():
			}
		}
	}()
	go s.publish(sessionID, state, listener, events)

	return TurnSubmitResult{StreamID: streamID}, nil
}

// TurnCancelParams are the decoded params of a turn/cancel request.
type TurnCancelParams struct {
	SessionID string `json:"session_id"`
}

// TurnCancel cancels whatever turn is currently in flight on session_id.
// A no-op (not an error) if nothing is in flight, matching
// threadstate.State.ClearListener's own idempotence.
func (s *Server) TurnCancel(params TurnCancelParams) *Error {
	if params.SessionID == "" {
		return &Error{Code: InvalidRequestErrorCode, Message: "session_id is required"}
	}
	s.threads.ThreadState(threadstate.SessionID(params.SessionID)).ClearListener()
	return nil
}

// publish relays events onto notifications for every connection subscribed
// to sessionID, for as long as listener remains the session's current
// listener. Once superseded (a newer turn/submit, or ClearListener via
// turn/cancel/connection drop) it stops delivering — a stale attempt's
// late events must not reach clients after cancellation.
func (s *Server) publish(sessionID threadstate.SessionID, state *threadstate.State, listener *threadstate.Listener, events <-chan turn.Event) {
	for ev := range events {
		if !state.ListenerMatches(listener) {
			continue
		}
		notif := notificationFor(sessionID, ev)
		if s.outbox == nil {
			continue
		}
		for _, connID := range state.SubscribedConnectionIDs() {
			s.outbox.Deliver(connID, notif)
		}
	}
}

// notificationFor maps a scheduler event to its outbound method name and
// builds the {order, ...payload} envelope.
func notificationFor(sessionID threadstate.SessionID, ev turn.Event) Notification {
	method, payload := eventPayload(ev.Event)
	params := map[string]any{
		"order":      ev.Key,
		"session_id": string(sessionID),
	}
	for k, v := range payload {
		params[k] = v
	}
	return Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

func eventPayload(ev llm.Event) (method string, payload map[string]any) {
	switch ev.Type {
	case llm.EventTextDelta:
		return "turn/textDelta", map[string]any{"text": ev.Text}
	case llm.EventReasoningDelta:
		return "turn/reasoningDelta", map[string]any{"text": ev.Text}
	case llm.EventToolCall:
		payload = map[string]any{}
		if ev.Tool != nil {
			payload["call_id"] = ev.Tool.ID
			payload["name"] = ev.Tool.Name
		}
		return "turn/toolCall", payload
	case llm.EventToolExecEnd:
		return "turn/toolResult", map[string]any{
			"call_id": ev.ToolCallID,
			"name":    ev.ToolName,
			"success": ev.ToolSuccess,
		}
	case llm.EventUsage:
		payload = map[string]any{}
		if ev.Use != nil {
			payload["input_tokens"] = ev.Use.InputTokens
			payload["output_tokens"] = ev.Use.OutputTokens
		}
		return "turn/usage", payload
	case llm.EventError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return "turn/error", map[string]any{"message": msg}
	default:
		return "turn/event", map[string]any{"type": string(ev.Type)}
	}
}
