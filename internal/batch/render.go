package batch

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/ordering"
)

// jsonlEntry is one line of a headless run's event log, mirroring the shape
// of internal/llm.DebugLogger's entries: a timestamp-free, order-stamped
// record a script can tail and jq.
type jsonlEntry struct {
	Order      ordering.Key `json:"order"`
	Type       string       `json:"type"`
	Text       string       `json:"text,omitempty"`
	ToolName   string       `json:"tool_name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Success    *bool        `json:"success,omitempty"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// JSONLRenderer writes one JSON object per event to Writer, in the order
// Run delivers them (which is already ordering.Key order — Scheduler emits
// strictly in that order within a single attempt). This is the renderer
// cmd/batch.go wires up for `term-llm batch --format jsonl`.
type JSONLRenderer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewJSONLRenderer wraps w in a buffered writer flushed after every line.
func NewJSONLRenderer(w io.Writer) *JSONLRenderer {
	return &JSONLRenderer{w: bufio.NewWriter(w)}
}

func (r *JSONLRenderer) Render(key ordering.Key, ev llm.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := jsonlEntry{Order: key, Type: string(ev.Type)}
	switch ev.Type {
	case llm.EventTextDelta, llm.EventReasoningDelta, llm.EventPhase:
		entry.Text = ev.Text
	case llm.EventToolCall:
		if ev.Tool != nil {
			entry.ToolName = ev.Tool.Name
			entry.ToolCallID = ev.Tool.ID
		}
	case llm.EventToolExecEnd:
		success := ev.ToolSuccess
		entry.ToolName = ev.ToolName
		entry.ToolCallID = ev.ToolCallID
		entry.Success = &success
		entry.Output = ev.ToolOutput
	case llm.EventError:
		if ev.Err != nil {
			entry.Error = ev.Err.Error()
		}
	}

	if err := json.NewEncoder(r.w).Encode(entry); err != nil {
		return err
	}
	return r.w.Flush()
}
