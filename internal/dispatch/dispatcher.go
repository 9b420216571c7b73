// Package dispatch routes resolved steps to their execution backends and
// normalizes backend failures onto the shared error taxonomy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	otelpw "github.com/planweave/planweave/internal/adapter/otel"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/port/backend"
	"github.com/planweave/planweave/internal/resilience"
)

// Dispatcher selects a backend by the agent's execution kind. All strategies
// return the same result shape: a value on success, a classified error on
// failure. Local calls run under the caller's own cancellation only; hosted
// and external calls additionally get a per-call deadline.
type Dispatcher struct {
	backends    map[agent.ExecKind]backend.Backend
	callTimeout time.Duration
}

// New creates a Dispatcher over the given backends. callTimeout bounds each
// hosted/external call; zero disables the per-call deadline.
func New(callTimeout time.Duration, backends ...backend.Backend) *Dispatcher {
	m := make(map[agent.ExecKind]backend.Backend, len(backends))
	for _, be := range backends {
		m[be.Kind()] = be
	}
	return &Dispatcher{backends: m, callTimeout: callTimeout}
}

// Dispatch executes the request on the backend serving the agent's kind.
func (d *Dispatcher) Dispatch(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error) {
	be, ok := d.backends[ag.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no backend serves %q agents", domain.ErrBackendUnavailable, ag.Kind)
	}

	if ag.Kind != agent.KindLocal {
		var span trace.Span
		ctx, span = otelpw.StartBackendSpan(ctx, ag.ID, string(ag.Kind))
		defer span.End()

		if d.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
			defer cancel()
		}
	}

	out, err := be.Execute(ctx, ag, req)
	if err != nil {
		err = classify(err)
		trace.SpanFromContext(ctx).RecordError(err)
		return nil, err
	}
	return out, nil
}

// classify maps transport-level failures onto the taxonomy. Errors already
// carrying a sentinel pass through unchanged so backends can pre-classify.
func classify(err error) error {
	if domain.Kind(err) != "Internal" {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return err
}
