// Package sink defines the event sink port (interface).
package sink

import (
	"context"

	"github.com/planweave/planweave/internal/domain/event"
)

// Sink receives run events one at a time, in strict emission order.
// Emit may block for backpressure; it must return ctx.Err() when the
// context is cancelled while waiting.
type Sink interface {
	Emit(ctx context.Context, ev event.Event) error
}
