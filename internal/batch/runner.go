// Package batch implements the headless executor front-end: it drives
// internal/turn.Scheduler to completion for a single request with no
// terminal UI and no JSON-RPC transport attached, collecting (or streaming)
// the events it emits. It is the Go analogue of the original project's
// non-interactive session runtime (code-rs/exec/src/session_runtime),
// generalized from "run one review" to "run one turn against any request".
package batch

import (
	"context"
	"fmt"

	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/ordering"
	"github.com/samsaffron/term-llm/internal/turn"
)

// ToolCallRecord is one tool invocation observed during the run, paired
// with its result once resolved.
type ToolCallRecord struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// Result is the terminal outcome of a headless run: the assistant's final
// text, every tool call the attempt(s) dispatched, and the usage of the
// last attempt that reported it.
type Result struct {
	Text      string           `json:"text"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage     *llm.Usage       `json:"usage,omitempty"`
	Err       error            `json:"-"`
	ErrorText string           `json:"error,omitempty"`
}

// Renderer is given every event as it streams by, in ordering.Key order,
// before Run returns. A nil Renderer means the caller only wants the final
// Result.
type Renderer interface {
	Render(key ordering.Key, ev llm.Event) error
}

// Runner drives one headless request through a turn.Scheduler.
type Runner struct {
	Scheduler *turn.Scheduler
	Render    Renderer
}

// NewRunner builds a Runner around scheduler. render may be nil.
func NewRunner(scheduler *turn.Scheduler, render Renderer) *Runner {
	return &Runner{Scheduler: scheduler, Render: render}
}

// Run submits req as requestOrdinal's attempt sequence and blocks until the
// scheduler's retry loop (internal to RunTurn) either finishes the turn or
// gives up. Unlike the RPC front-end, there is nobody else to hand a
// turn/cancel to: ctx cancellation is the only way to stop a headless run
// early.
func (r *Runner) Run(ctx context.Context, requestOrdinal int64, req llm.Request) (*Result, error) {
	events := make(chan turn.Event, 64)
	runErr := make(chan error, 1)

	go func() {
		runErr <- r.Scheduler.RunTurn(ctx, requestOrdinal, req, events)
		close(events)
	}()

	result := &Result{}
	toolByCallID := map[string]int{}

	for ev := range events {
		if r.Render != nil {
			if err := r.Render.Render(ev.Key, ev.Event); err != nil {
				return nil, fmt.Errorf("render event: %w", err)
			}
		}
		applyEvent(result, toolByCallID, ev.Event)
	}

	if err := <-runErr; err != nil {
		result.Err = err
		result.ErrorText = err.Error()
	}
	return result, result.Err
}

func applyEvent(result *Result, toolByCallID map[string]int, ev llm.Event) {
	switch ev.Type {
	case llm.EventTextDelta:
		result.Text += ev.Text
	case llm.EventToolCall:
		if ev.Tool == nil {
			return
		}
		toolByCallID[ev.Tool.ID] = len(result.ToolCalls)
		result.ToolCalls = append(result.ToolCalls, ToolCallRecord{CallID: ev.Tool.ID, Name: ev.Tool.Name})
	case llm.EventToolExecEnd:
		idx, ok := toolByCallID[ev.ToolCallID]
		if !ok {
			idx = len(result.ToolCalls)
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{CallID: ev.ToolCallID, Name: ev.ToolName})
			toolByCallID[ev.ToolCallID] = idx
		}
		result.ToolCalls[idx].Success = ev.ToolSuccess
		result.ToolCalls[idx].Output = ev.ToolOutput
	case llm.EventUsage:
		if ev.Use != nil {
			result.Usage = ev.Use
		}
	case llm.EventError:
		if ev.Err != nil {
			result.Err = ev.Err
			result.ErrorText = ev.Err.Error()
		}
	}
}
