package broker

import (
	"context"
	"sync"

	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/port/sink"
)

// CaptureSink appends events to an in-memory ordered sequence. Used by tests
// and by callers that drain events after the run finishes.
type CaptureSink struct {
	mu     sync.Mutex
	events []event.Event
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// Emit appends the event.
func (s *CaptureSink) Emit(_ context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the captured events in emission order.
func (s *CaptureSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ChannelSink delivers events over a capacity-bounded channel. When the
// channel is full, Emit suspends the calling run until the consumer frees
// capacity or the context is cancelled. This is the backpressure mechanism
// bounding memory use by consumer speed.
type ChannelSink struct {
	ch chan event.Event
}

// NewChannelSink creates a channel sink with the given capacity.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity < 1 {
		capacity = 1
	}
	return &ChannelSink{ch: make(chan event.Event, capacity)}
}

// Emit sends the event, blocking while the channel is full.
func (s *ChannelSink) Emit(ctx context.Context, ev event.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan event.Event {
	return s.ch
}

// Close closes the channel. Call only after the producing run has finished.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// FanOutSink delivers each event to several sinks in fixed order. The first
// sink error aborts the emission; later sinks do not see the event.
type FanOutSink struct {
	sinks []sink.Sink
}

// NewFanOutSink combines sinks. Nil entries are skipped.
func NewFanOutSink(sinks ...sink.Sink) *FanOutSink {
	out := make([]sink.Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanOutSink{sinks: out}
}

// Emit delivers the event to every sink in order.
func (s *FanOutSink) Emit(ctx context.Context, ev event.Event) error {
	for _, dst := range s.sinks {
		if err := dst.Emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// CallbackSink invokes a function for each event. The callback runs on the
// emitting run's control path; a slow callback slows only that run.
type CallbackSink struct {
	fn func(ctx context.Context, ev event.Event) error
}

// NewCallbackSink wraps fn as a sink.
func NewCallbackSink(fn func(ctx context.Context, ev event.Event) error) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit invokes the callback.
func (s *CallbackSink) Emit(ctx context.Context, ev event.Event) error {
	return s.fn(ctx, ev)
}
