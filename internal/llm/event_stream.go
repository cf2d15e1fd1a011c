package llm

import (
	"context"
	"io"
	"time"
)

// eventGenerator produces events onto the channel and returns the terminal
// error for the stream, if any.
type eventGenerator func(ctx context.Context, events chan<- Event) error

// eventStream is a channel-backed Stream: it runs a generator function in
// its own goroutine and relays whatever it sends on events to Recv, closing
// out with io.EOF once the generator returns (or its error, if non-nil).
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}
	err    error
}

// newEventStream starts gen in a background goroutine and returns a Stream
// that relays its events. Closing the returned Stream cancels ctx, which
// gen is expected to observe and return promptly.
func newEventStream(ctx context.Context, gen eventGenerator) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		s.err = gen(ctx, s.events)
	}()
	return s
}

// Recv returns the next event, io.EOF once the generator has finished
// cleanly, or the generator's error if it returned one.
func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if ok {
		return event, nil
	}
	<-s.done
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// RateLimitError signals a provider-reported rate limit, optionally with an
// explicit Retry-After duration. isRetryable/calculateBackoff in retry.go
// use RetryAfter and IsLongWait to decide whether and how long to wait
// before retrying automatically rather than surfacing the error.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limited"
}

// IsLongWait reports whether the provider asked for a wait long enough
// that automatic retry isn't worth it (the caller should surface the error
// instead of blocking).
func (e *RateLimitError) IsLongWait() bool {
	return e.RetryAfter > 2*time.Minute
}

type callIDKey struct{}

// ContextWithCallID tags ctx with the ID of the tool call currently being
// executed, so a tool's Execute method can look up which invocation it is
// serving (e.g. to route a provider-synchronous response channel).
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey{}, callID)
}

// CallIDFromContext returns the tool call ID set by ContextWithCallID, or
// "" if none was set.
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
