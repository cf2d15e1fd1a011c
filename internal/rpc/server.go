package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/samsaffron/term-llm/internal/threadstate"
	"github.com/samsaffron/term-llm/internal/turn"
)

// Outbox delivers a notification to a specific connection. A transport
// (stdio, a websocket handler) implements this to actually write bytes;
// Server never touches a socket directly.
type Outbox interface {
	Deliver(connID threadstate.ConnectionID, notif Notification)
}

// SchedulerFactory builds the turn.Scheduler a new session should run
// turns against, typically selecting a provider/tool-registry pairing by
// the requested model.
type SchedulerFactory func(model string) (*turn.Scheduler, error)

const serverName = "term-llm-agent-server"

// Server implements the app-server JSON-RPC method surface. It owns no
// transport; callers decode a Request, call Dispatch, and encode the
// returned Response.
type Server struct {
	Version string

	threads *threadstate.Manager
	outbox  Outbox
	newSched SchedulerFactory

	modelsMu     sync.RWMutex
	modelListers map[string]ModelLister

	sessionsMu sync.Mutex
	sessions   map[threadstate.SessionID]*sessionState
}

type sessionState struct {
	mu        sync.Mutex
	scheduler *turn.Scheduler
	nextOrdinal int64
}

func (s *sessionState) mintOrdinal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrdinal++
	return s.nextOrdinal
}

// NewServer builds a Server. outbox and newSched may be nil in tests that
// only exercise session/model bookkeeping without submitting turns.
func NewServer(outbox Outbox, newSched SchedulerFactory) *Server {
	return &Server{
		Version:      "0.1.0",
		threads:      threadstate.NewManager(),
		outbox:       outbox,
		newSched:     newSched,
		modelListers: make(map[string]ModelLister),
		sessions:     make(map[threadstate.SessionID]*sessionState),
	}
}

// InitializeParams are the decoded params of an initialize request.
type InitializeParams struct {
	ClientName    string `json:"client_name,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

// InitializeResult is the decoded result of an initialize response.
type InitializeResult struct {
	ServerName    string `json:"server_name"`
	ServerVersion string `json:"server_version"`
}

// Initialize handles the initialize method.
func (s *Server) Initialize(InitializeParams) InitializeResult {
	return InitializeResult{ServerName: serverName, ServerVersion: s.Version}
}

// Dispatch decodes req.Params for the named method, runs the handler, and
// encodes the result or error into a Response. connID identifies the
// transport connection req arrived on, used for session subscription and
// cancellation bookkeeping.
func (s *Server) Dispatch(ctx context.Context, connID threadstate.ConnectionID, req Request) Response {
	switch req.Method {
	case "initialize":
		var params InitializeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
			}
		}
		return resultResponse(req.ID, s.Initialize(params))

	case "model/list":
		var params ModelListParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
			}
		}
		result, rpcErr := s.ModelList(ctx, params)
		if rpcErr != nil {
			return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
		}
		return resultResponse(req.ID, result)

	case "session/new":
		var params SessionNewParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
			}
		}
		result, rpcErr := s.SessionNew(params)
		if rpcErr != nil {
			return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
		}
		return resultResponse(req.ID, result)

	case "session/attach":
		var params SessionAttachParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
		}
		if rpcErr := s.SessionAttach(connID, params); rpcErr != nil {
			return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
		}
		return resultResponse(req.ID, struct{}{})

	case "session/detach":
		s.SessionDetach(connID)
		return resultResponse(req.ID, struct{}{})

	case "turn/submit":
		var params TurnSubmitParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
		}
		result, rpcErr := s.TurnSubmit(ctx, connID, params)
		if rpcErr != nil {
			return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
		}
		return resultResponse(req.ID, result)

	case "turn/cancel":
		var params TurnCancelParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, InvalidRequestErrorCode, "invalid params: "+err.Error())
		}
		if rpcErr := s.TurnCancel(params); rpcErr != nil {
			return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
		}
		return resultResponse(req.ID, struct{}{})

	default:
		return errorResponse(req.ID, MethodNotFoundErrorCode, "method not found: "+req.Method)
	}
}

func newSessionID() threadstate.SessionID {
	return threadstate.SessionID(uuid.NewString())
}

func newStreamID() string {
	return uuid.NewString()
}
