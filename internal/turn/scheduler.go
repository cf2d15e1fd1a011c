// Package turn drives a session's turns through one or more attempts
// against a model provider, dispatching tool calls through a tool
// registry, ordering every emitted event, recovering an interrupted
// attempt's partial progress into the next one, and guarding each attempt
// with latency accounting.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/samsaffron/term-llm/internal/corekit/errs"
	"github.com/samsaffron/term-llm/internal/llm"
	"github.com/samsaffron/term-llm/internal/ordering"
)

// AttemptID distinguishes successive tries at the same turn. It increases
// by one on each retry within a turn and resets for the next turn.
type AttemptID int64

// AttemptOutcome is the terminal result of a single attempt.
type AttemptOutcome string

const (
	AttemptCompleted AttemptOutcome = "completed"
	AttemptRetry     AttemptOutcome = "retry"
	AttemptAborted   AttemptOutcome = "aborted"
)

// Event is one ordered item the scheduler emits for a turn.
type Event struct {
	Key   ordering.Key
	Event llm.Event
}

// Config bounds a turn's attempt loop.
type Config struct {
	// MaxRetries caps how many times a turn retries after an interrupted
	// or transient-failing attempt. 0 means unlimited; per spec's open
	// question this must be set explicitly by the caller (per-turn or
	// per-session is a deployment choice, not something the scheduler
	// decides on its own).
	MaxRetries int
	// SearchToolName names the tool whose output triggers the search-tool
	// developer-message injection. Empty disables that rule.
	SearchToolName string
}

// LatencyObserver is notified of each attempt's terminal latency report.
// attemptID identifies which attempt within the turn the report covers.
type LatencyObserver func(attemptID AttemptID, report LatencyReport)

// Scheduler drives turns for a single provider/tool-registry pairing.
type Scheduler struct {
	Provider llm.Provider
	Tools    *llm.ToolRegistry
	Config   Config

	// OnLatencyReport, if set, is invoked once per attempt with its
	// terminal latency outcome. Front-ends use this to surface
	// dropped_without_outcome attempts to operators.
	OnLatencyReport LatencyObserver
}

// NewScheduler builds a Scheduler over provider and toolRegistry.
func NewScheduler(provider llm.Provider, toolRegistry *llm.ToolRegistry, cfg Config) *Scheduler {
	return &Scheduler{Provider: provider, Tools: toolRegistry, Config: cfg}
}

// RunTurn drives req through one or more attempts until the turn reaches a
// terminal state, emitting ordered events on out. requestOrdinal is this
// turn's position in its session's total order (monotone per session,
// minted by the caller, e.g. from threadstate). RunTurn does not close out.
func (s *Scheduler) RunTurn(ctx context.Context, requestOrdinal int64, req llm.Request, out chan<- Event) error {
	input := append([]llm.Message(nil), req.Messages...)
	if len(req.Tools) == 0 && s.Tools != nil {
		req.Tools = s.Tools.AllSpecs()
	}

	var attemptID AttemptID
	var lastErr error

	for {
		attemptID++
		attemptReq := req
		attemptReq.Messages = InjectDeveloperMessages(input, s.Config.SearchToolName)

		outcome, pad, err := s.RunAttempt(ctx, requestOrdinal, attemptID, attemptReq, out)
		switch outcome {
		case AttemptCompleted:
			return nil
		case AttemptRetry:
			lastErr = err
			if s.Config.MaxRetries > 0 && int(attemptID) > s.Config.MaxRetries {
				return fmt.Errorf("turn: exceeded %d retries: %w", s.Config.MaxRetries, lastErr)
			}
			input = Splice(input, pad)
			continue
		default:
			return err
		}
	}
}

// RunAttempt issues one model request and drives it to completion,
// dispatching tool calls through the tool registry concurrently as they
// arrive and reconciling any call still outstanding when the stream ends.
// It returns the attempt's outcome and, for AttemptRetry, the scratchpad to
// splice into the next attempt's input.
func (s *Scheduler) RunAttempt(ctx context.Context, requestOrdinal int64, attemptID AttemptID, req llm.Request, out chan<- Event) (AttemptOutcome, Scratchpad, error) {
	var pad Scratchpad
	var completedItems int

	guard := NewLatencyGuard(func(report LatencyReport) {
		if s.OnLatencyReport != nil {
			s.OnLatencyReport(attemptID, report)
		}
	})
	defer guard.Finish()

	stream, err := s.Provider.Stream(ctx, req)
	if err != nil {
		guard.MarkFailed(err.Error())
		if isRetryable(err) {
			return AttemptRetry, pad, err
		}
		return AttemptAborted, pad, err
	}
	defer stream.Close()

	var outputIndex int64
	var orderMu sync.Mutex
	slotCounters := map[int64]*ordering.Counter{}
	counterFor := func(slot int64) *ordering.Counter {
		orderMu.Lock()
		defer orderMu.Unlock()
		c, ok := slotCounters[slot]
		if !ok {
			c = ordering.NewCounter(requestOrdinal, slot)
			slotCounters[slot] = c
		}
		return c
	}
	nextSlot := func() int64 {
		outputIndex++
		return outputIndex
	}
	// emit is called from both the main receive loop and the tool-dispatch
	// goroutines (for EventToolExecEnd), so counterFor's map access and the
	// Key it mints must be serialized: two goroutines minting a key for the
	// same slot concurrently could otherwise race on slotCounters or hand
	// out non-monotonic sequence numbers.
	emit := func(slot int64, ev llm.Event) {
		select {
		case out <- Event{Key: counterFor(slot).Next(), Event: ev}:
		case <-ctx.Done():
		}
	}

	textSlot := nextSlot()

	var toolWG sync.WaitGroup
	var toolMu sync.Mutex
	pendingTools := map[string]llm.ToolCall{}

	loop, streamErr := func() (AttemptOutcome, error) {
		for {
			event, err := stream.Recv()
			if err == io.EOF {
				return AttemptCompleted, nil
			}
			if err != nil {
				if isRetryable(err) {
					return AttemptRetry, err
				}
				return AttemptAborted, err
			}

			switch event.Type {
			case llm.EventTextDelta:
				pad.AppendAssistantText(event.Text)
				emit(textSlot, event)
			case llm.EventReasoningDelta:
				pad.AppendReasoningSummary(event.Text)
				emit(textSlot, event)
			case llm.EventToolCall:
				if event.Tool == nil {
					continue
				}
				call := *event.Tool
				slot := nextSlot()
				toolMu.Lock()
				pendingTools[call.ID] = call
				toolMu.Unlock()
				emit(slot, event)
				s.dispatchTool(ctx, call, slot, &pad, &toolMu, &toolWG, emit)
			case llm.EventUsage:
				completedItems++
				emit(ordering.PosInf, event)
			case llm.EventError:
				emit(ordering.PosInf, event)
				if isRetryable(event.Err) {
					return AttemptRetry, event.Err
				}
				return AttemptAborted, event.Err
			default:
				emit(ordering.PosInf, event)
			}
		}
	}()

	toolWG.Wait()

	if loop == AttemptRetry || loop == AttemptAborted {
		guard.MarkFailed(streamErr.Error())
		reconcileOutstanding(&pad, pendingTools)
		return loop, pad, streamErr
	}

	reconcileOutstanding(&pad, pendingTools)
	guard.MarkCompleted(completedItems, nil)
	return AttemptCompleted, pad, nil
}

// dispatchTool executes call against the registry in its own goroutine,
// recording the finalized call and its result on the scratchpad once it
// completes (or the attempt's context is cancelled, whichever first).
func (s *Scheduler) dispatchTool(ctx context.Context, call llm.ToolCall, slot int64, pad *Scratchpad, mu *sync.Mutex, wg *sync.WaitGroup, emit func(int64, llm.Event)) {
	tool, ok := s.Tools.Get(call.Name)
	wg.Add(1)
	go func() {
		defer wg.Done()

		var output llm.ToolOutput
		var execErr error
		if !ok {
			execErr = fmt.Errorf("unknown tool: %s", call.Name)
		} else {
			output, execErr = tool.Execute(ctx, call.Arguments)
		}

		var resultMsg llm.Message
		if execErr != nil {
			resultMsg = llm.ToolErrorMessage(call.ID, call.Name, execErr.Error(), call.ThoughtSig)
		} else {
			resultMsg = llm.ToolResultMessageFromOutput(call.ID, call.Name, output, call.ThoughtSig)
		}

		mu.Lock()
		pad.AddToolCall(call)
		pad.AddToolResult(*resultMsg.Parts[0].ToolResult)
		mu.Unlock()

		emit(slot, llm.Event{Type: llm.EventToolExecEnd, ToolName: call.Name, ToolCallID: call.ID, ToolSuccess: execErr == nil})
	}()
}

// reconcileOutstanding synthesizes a failure output for any tool call the
// attempt opened but never produced a result for — e.g. the stream ended
// mid-call. Without this, a call id from pad.ToolCalls could reach the next
// attempt's input with no matching result, which every provider rejects.
func reconcileOutstanding(pad *Scratchpad, pending map[string]llm.ToolCall) {
	have := make(map[string]bool, len(pad.ToolResults))
	for _, r := range pad.ToolResults {
		have[r.ID] = true
	}
	for id, call := range pending {
		if have[id] {
			continue
		}
		pad.AddToolCall(call)
		msg := llm.ToolErrorMessage(id, call.Name, "tool execution did not complete before the attempt ended", call.ThoughtSig)
		pad.AddToolResult(*msg.Parts[0].ToolResult)
	}
}

// isRetryable classifies a stream error as recoverable by retrying the
// turn with the scratchpad spliced into the next attempt, versus a fatal
// error that aborts the turn outright.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rle *llm.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return errs.KindOf(err).Retryable()
}
