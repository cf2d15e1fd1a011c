package turn

import (
	"context"
	"testing"
	"time"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/testutil"
)

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for scheduler events")
		}
	}
}

func TestRunTurnSingleAttemptCompletes(t *testing.T) {
	provider := llm.NewMockProvider("test").AddTextResponse("hello world")
	registry := llm.NewToolRegistry()
	sched := NewScheduler(provider, registry, Config{})

	out := make(chan Event, 64)
	err := sched.RunTurn(context.Background(), 1, llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, out)
	close(out)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}

	var text string
	for _, ev := range collectEvents(t, out) {
		if ev.Event.Type == llm.EventTextDelta {
			text += ev.Event.Text
		}
		if ev.Key.RequestOrdinal != 1 {
			t.Fatalf("expected all events to carry requestOrdinal 1, got %d", ev.Key.RequestOrdinal)
		}
	}
	if text != "hello world" {
		t.Fatalf("expected streamed text %q, got %q", "hello world", text)
	}
}

func TestRunTurnDispatchesToolCallAndReconciles(t *testing.T) {
	provider := llm.NewMockProvider("test").AddToolCall("c1", "echo", map[string]string{"msg": "hi"})
	registry := llm.NewToolRegistry()
	tool := testutil.NewMockTool("echo", "echoed: hi")
	registry.Register(tool)

	sched := NewScheduler(provider, registry, Config{})
	out := make(chan Event, 64)

	var reported LatencyOutcome
	sched.OnLatencyReport = func(_ AttemptID, report LatencyReport) { reported = report.Outcome }

	err := sched.RunTurn(context.Background(), 1, llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, out)
	close(out)
	if err != nil {
		t.Fatalf("RunTurn returned error: %v", err)
	}

	foundExecEnd := false
	for _, ev := range collectEvents(t, out) {
		if ev.Event.Type == llm.EventToolExecEnd && ev.Event.ToolCallID == "c1" {
			foundExecEnd = true
			if !ev.Event.ToolSuccess {
				t.Fatalf("expected tool exec to succeed")
			}
		}
	}
	if !foundExecEnd {
		t.Fatal("expected a tool_exec_end event for call c1")
	}
	if reported != LatencyCompleted {
		t.Fatalf("expected latency report LatencyCompleted, got %s", reported)
	}
	if len(tool.Invocations) != 1 {
		t.Fatalf("expected tool to be invoked once, got %d", len(tool.Invocations))
	}
}

func TestRunAttemptRetryableErrorYieldsScratchpadForSplice(t *testing.T) {
	provider := llm.NewMockProvider("test").AddTurn(llm.MockTurn{
		Text: "partial",
		Err:  &llm.RateLimitError{},
	})
	registry := llm.NewToolRegistry()
	sched := NewScheduler(provider, registry, Config{})

	out := make(chan Event, 64)
	outcome, pad, err := sched.RunAttempt(context.Background(), 1, 1, llm.Request{}, out)
	close(out)

	if outcome != AttemptRetry {
		t.Fatalf("expected AttemptRetry, got %s (err=%v)", outcome, err)
	}
	if pad.PartialAssistantText != "" {
		t.Fatalf("MockTurn with both Text and Err only emits the error event; expected no partial text, got %q", pad.PartialAssistantText)
	}
}
