package ws

import (
	"context"

	"github.com/planweave/planweave/internal/domain/event"
)

// Sink adapts the hub to the event sink port. Delivery is best-effort: a
// slow or gone WebSocket client must never fail a run.
type Sink struct {
	hub *Hub
}

// NewSink creates a sink broadcasting through hub.
func NewSink(hub *Hub) *Sink {
	return &Sink{hub: hub}
}

// Emit implements sink.Sink.
func (s *Sink) Emit(ctx context.Context, ev event.Event) error {
	s.hub.Broadcast(ctx, ev)
	return nil
}
