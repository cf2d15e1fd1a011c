package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/testutil"
	"github.com/samsaffron/term-llm/internal/turn"
)

func TestRunnerCollectsTextAndUsage(t *testing.T) {
	provider := llm.NewMockProvider("test").AddTextResponse("hello headless world")
	registry := llm.NewToolRegistry()
	sched := turn.NewScheduler(provider, registry, turn.Config{})

	runner := NewRunner(sched, nil)
	result, err := runner.Run(context.Background(), 1, llm.Request{Messages: []llm.Message{llm.UserText("hi")}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Text != "hello headless world" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

func TestRunnerRecordsToolCalls(t *testing.T) {
	tool := testutil.NewMockTool("echo", "echoed: hi")
	registry := llm.NewToolRegistry()
	registry.Register(tool)

	provider := llm.NewMockProvider("test").AddToolCall("c1", "echo", map[string]any{"text": "hi"}).AddTextResponse("done")
	sched := turn.NewScheduler(provider, registry, turn.Config{})

	runner := NewRunner(sched, nil)
	result, err := runner.Run(context.Background(), 1, llm.Request{Messages: []llm.Message{llm.UserText("hi")}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	if !result.ToolCalls[0].Success {
		t.Fatalf("expected tool call to succeed: %+v", result.ToolCalls[0])
	}
}

func TestJSONLRendererWritesOneLinePerEvent(t *testing.T) {
	provider := llm.NewMockProvider("test").AddTextResponse("hi")
	registry := llm.NewToolRegistry()
	sched := turn.NewScheduler(provider, registry, turn.Config{})

	var buf bytes.Buffer
	runner := NewRunner(sched, NewJSONLRenderer(&buf))
	if _, err := runner.Run(context.Background(), 1, llm.Request{Messages: []llm.Message{llm.UserText("hi")}}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 {
		t.Fatal("expected at least one rendered line")
	}
	var entry jsonlEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line 0 is not valid JSON: %v", err)
	}
}
