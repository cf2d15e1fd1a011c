package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// mockChunkSize is how many runes MockProvider splits a queued text response
// into, so tests exercising streaming UI behavior see multiple EventTextDelta
// events instead of one giant chunk.
const mockChunkSize = 20

// MockTurn configures a single queued response for MockProvider.Stream. A
// turn yields, in order, ToolCalls (if any), then Text split into chunks
// (if non-empty), then a final usage event, unless Err is set in which
// case it yields a single EventError instead.
type MockTurn struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
	Delay     time.Duration
}

// MockProvider is a queueable fake Provider for engine and integration
// tests. Turns are consumed one per Stream call, in the order they were
// added; calling Stream once the queue is exhausted returns an error.
type MockProvider struct {
	name string
	caps Capabilities

	turns  []MockTurn
	cursor int

	Requests []Request
}

// NewMockProvider creates a MockProvider with no queued turns and tool
// calls enabled by default.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name: name,
		caps: Capabilities{ToolCalls: true},
	}
}

// WithCapabilities overrides the capabilities MockProvider reports.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

// AddTextResponse queues a turn that streams text then a usage event.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text})
}

// AddToolCall queues a turn that emits a single tool call. args is
// marshaled to JSON for ToolCall.Arguments.
func (p *MockProvider) AddToolCall(id, name string, args interface{}) *MockProvider {
	raw, _ := json.Marshal(args)
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError queues a turn that yields a single EventError.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// AddTurn queues an arbitrary turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.turns = append(p.turns, turn)
	return p
}

// Reset clears recorded requests and rewinds the turn queue to the start.
func (p *MockProvider) Reset() {
	p.cursor = 0
	p.Requests = nil
}

// CurrentTurn returns the index of the next turn to be consumed.
func (p *MockProvider) CurrentTurn() int {
	return p.cursor
}

func (p *MockProvider) Name() string              { return p.name }
func (p *MockProvider) Credential() string         { return "mock" }
func (p *MockProvider) Capabilities() Capabilities { return p.caps }

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if p.cursor >= len(p.turns) {
		return nil, fmt.Errorf("mock provider %q: no more turns configured", p.name)
	}
	turn := p.turns[p.cursor]
	p.cursor++
	p.Requests = append(p.Requests, req)

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if turn.Err != nil {
			select {
			case events <- Event{Type: EventError, Err: turn.Err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		for _, tc := range turn.ToolCalls {
			tc := tc
			select {
			case events <- Event{Type: EventToolCall, Tool: &tc}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, chunk := range chunkText(turn.Text, mockChunkSize) {
			select {
			case events <- Event{Type: EventTextDelta, Text: chunk}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if turn.Text != "" {
			select {
			case events <- Event{Type: EventUsage, Use: &Usage{InputTokens: 1, OutputTokens: len(turn.Text)}}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	}), nil
}

// chunkText splits text into chunks of at most chunkSize runes each, for
// simulating realistic multi-delta streaming in tests. Returns nil for
// empty text.
func chunkText(text string, chunkSize int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
