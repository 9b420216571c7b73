// Package broker normalizes heterogeneous event sinks behind one emission
// contract. The interpreter emits through a Broker without knowing which
// sink shape the caller supplied.
package broker

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/port/sink"
)

// Broker delivers events for a single run to one sink. A nil Broker (or one
// constructed with a nil sink) is valid: Emit is a no-op. Events are
// delivered in strict emission order; the broker never reorders or drops
// except when the context is cancelled mid-emission.
type Broker struct {
	sink sink.Sink
}

// New creates a broker bound to the given sink. The sink shape is fixed at
// construction; pass nil to disable event delivery.
func New(s sink.Sink) *Broker {
	return &Broker{sink: s}
}

// Emit delivers one event. It blocks only as long as the sink's backpressure
// demands and returns ctx.Err() if cancelled while waiting.
func (b *Broker) Emit(ctx context.Context, ev event.Event) error {
	if b == nil || b.sink == nil {
		return nil
	}
	if err := b.sink.Emit(ctx, ev); err != nil {
		return fmt.Errorf("emit %s: %w", ev.Event, err)
	}
	return nil
}
