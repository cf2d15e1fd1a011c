package rpc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/threadstate"
	"github.com/samsaffron/term-llm/internal/turn"
)

type fakeOutbox struct {
	mu    sync.Mutex
	notes []Notification
}

func (f *fakeOutbox) Deliver(_ threadstate.ConnectionID, notif Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notif)
}

func (f *fakeOutbox) snapshot() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notes...)
}

type fakeLister struct {
	models []llm.ModelInfo
}

func (f fakeLister) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, nil
}

func TestInitialize(t *testing.T) {
	s := NewServer(nil, nil)
	resp := s.Dispatch(context.Background(), "conn-1", Request{JSONRPC: JSONRPCVersion, ID: IntID(1), Method: "initialize"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestModelListInvalidCursor(t *testing.T) {
	s := NewServer(nil, nil)
	s.RegisterModelLister("anthropic", fakeLister{models: []llm.ModelInfo{{ID: "a"}, {ID: "b"}}})

	params, _ := json.Marshal(ModelListParams{Cursor: "bad-cursor", Limit: 1})
	resp := s.Dispatch(context.Background(), "conn-1", Request{JSONRPC: JSONRPCVersion, ID: IntID(2), Method: "model/list", Params: params})

	if resp.Error == nil {
		t.Fatal("expected an error for an invalid cursor")
	}
	if resp.Error.Code != InvalidRequestErrorCode {
		t.Fatalf("expected InvalidRequestErrorCode, got %d", resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "invalid cursor") {
		t.Fatalf("expected message to mention 'invalid cursor', got %q", resp.Error.Message)
	}
}

func TestModelListPaginates(t *testing.T) {
	s := NewServer(nil, nil)
	s.RegisterModelLister("anthropic", fakeLister{models: []llm.ModelInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}}})

	params, _ := json.Marshal(ModelListParams{Limit: 1})
	resp := s.Dispatch(context.Background(), "conn-1", Request{JSONRPC: JSONRPCVersion, ID: IntID(2), Method: "model/list", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(ModelListResult)
	if len(result.Data) > 1 {
		t.Fatalf("expected at most 1 model per page, got %d", len(result.Data))
	}
	if result.NextCursor != result.Data[0].ID {
		t.Fatalf("expected next_cursor to be the last id on the page")
	}
}

func TestSessionNewAttachSubmitPublishesNotifications(t *testing.T) {
	outbox := &fakeOutbox{}
	provider := llm.NewMockProvider("test").AddTextResponse("hi there")
	registry := llm.NewToolRegistry()
	factory := func(model string) (*turn.Scheduler, error) {
		return turn.NewScheduler(provider, registry, turn.Config{}), nil
	}
	s := NewServer(outbox, factory)

	newResult, rpcErr := s.SessionNew(SessionNewParams{})
	if rpcErr != nil {
		t.Fatalf("SessionNew failed: %+v", rpcErr)
	}

	if rpcErr := s.SessionAttach("conn-1", SessionAttachParams{SessionID: newResult.SessionID}); rpcErr != nil {
		t.Fatalf("SessionAttach failed: %+v", rpcErr)
	}

	submitResult, rpcErr := s.TurnSubmit(context.Background(), "conn-1", TurnSubmitParams{
		SessionID: newResult.SessionID,
		Messages:  []llm.Message{llm.UserText("hi")},
	})
	if rpcErr != nil {
		t.Fatalf("TurnSubmit failed: %+v", rpcErr)
	}
	if submitResult.StreamID == "" {
		t.Fatal("expected a non-empty stream id")
	}

	waitForNotifications(t, outbox, "turn/textDelta")
}

func waitForNotifications(t *testing.T, outbox *fakeOutbox, method string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		for _, n := range outbox.snapshot() {
			if n.Method == method {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a %s notification", method)
		case <-time.After(time.Millisecond):
		}
	}
}
