// Package ordering defines the total order over streamed turn events.
package ordering

import "fmt"

// NegInf and PosInf are pseudo output indices used by system events that
// must sort before or after every real output slot of a request.
const (
	NegInf = -1 << 62
	PosInf = 1<<62 - 1
)

// Key is a lexicographically comparable position in the event stream.
// Events compare first by RequestOrdinal (which attempt produced them),
// then OutputIndex (which output slot within the attempt), then
// SequenceNumber (emission order within that slot).
type Key struct {
	RequestOrdinal int64
	OutputIndex    int64
	SequenceNumber int64
}

// System builds a Key for a pseudo-event not tied to a real output slot,
// e.g. a turn-level notification. idx should be NegInf or PosInf.
func System(requestOrdinal int64, idx int64, seq int64) Key {
	return Key{RequestOrdinal: requestOrdinal, OutputIndex: idx, SequenceNumber: seq}
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.RequestOrdinal != other.RequestOrdinal {
		return k.RequestOrdinal < other.RequestOrdinal
	}
	if k.OutputIndex != other.OutputIndex {
		return k.OutputIndex < other.OutputIndex
	}
	return k.SequenceNumber < other.SequenceNumber
}

// Compare returns -1, 0, or 1 following the usual comparator convention.
func (k Key) Compare(other Key) int {
	switch {
	case k.Less(other):
		return -1
	case other.Less(k):
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.RequestOrdinal, k.OutputIndex, k.SequenceNumber)
}

// Counter mints monotonically increasing sequence numbers for a single
// output slot. Not safe for concurrent use by itself — callers serialize
// access the same way a single output slot is only ever written by one
// goroutine at a time (the turn scheduler's per-attempt dispatch loop).
type Counter struct {
	requestOrdinal int64
	outputIndex    int64
	next           int64
}

// NewCounter starts a sequence counter for one (request, output) slot.
func NewCounter(requestOrdinal, outputIndex int64) *Counter {
	return &Counter{requestOrdinal: requestOrdinal, outputIndex: outputIndex}
}

// Next mints the next Key in this slot.
func (c *Counter) Next() Key {
	k := Key{RequestOrdinal: c.requestOrdinal, OutputIndex: c.outputIndex, SequenceNumber: c.next}
	c.next++
	return k
}
