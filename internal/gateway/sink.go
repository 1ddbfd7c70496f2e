package gateway

import (
	"sync"

	"github.com/inferflow/inferflow/internal/usage"
)

// Final statuses delivered to a target.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// FinalResult is the terminal notification delivered once per stream.
type FinalResult struct {
	Status string
	Error  string
	Usage  usage.Record
}

// DeliveryTarget is the capability to push streamed output to whatever is
// waiting for a correlation id: an HTTP writer, a socket room, or an
// internal event sink. OnEnd is called at most once.
type DeliveryTarget interface {
	OnChunk(delta string)
	OnEnd(result FinalResult)
}

// SinkEvent is one entry on a ChannelSink's event stream. End is non-nil
// exactly once, on the final event.
type SinkEvent struct {
	Delta string
	End   *FinalResult
}

// ChannelSink adapts a DeliveryTarget to a consumable channel. Sends never
// block the aggregator: if the consumer stops draining, further deltas are
// dropped rather than stalling the consume loop. The registry eviction timer
// may end the stream on another goroutine between a Lookup and the delivery,
// so every send checks the closed flag under the lock.
type ChannelSink struct {
	mu     sync.Mutex
	events chan SinkEvent
	closed bool
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan SinkEvent, buffer)}
}

// Events returns the stream of sink events. The channel is closed after the
// end event.
func (s *ChannelSink) Events() <-chan SinkEvent {
	return s.events
}

func (s *ChannelSink) OnChunk(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.events <- SinkEvent{Delta: delta}:
	default:
	}
}

func (s *ChannelSink) OnEnd(result FinalResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.events <- SinkEvent{End: &result}:
	default:
	}
	close(s.events)
}

// Close releases the sink without a terminal event, for callers that stop
// listening early.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
