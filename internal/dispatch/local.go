package dispatch

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/port/backend"
)

// Local invokes registered task callables in-process. A callable that blocks
// (network I/O, waiting on another service) suspends only its own run's
// goroutine; other concurrent runs keep making progress.
type Local struct{}

// NewLocal creates the in-process backend.
func NewLocal() *Local {
	return &Local{}
}

// Kind implements backend.Backend.
func (*Local) Kind() agent.ExecKind {
	return agent.KindLocal
}

// Execute runs the bound task callable with the request's inputs.
func (*Local) Execute(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error) {
	if req.Task == nil {
		// Local sub-plans are interpreted by the engine, never dispatched.
		return nil, fmt.Errorf("%w: local dispatch without a task (step %q)", domain.ErrUnknownTask, req.StepID)
	}
	if req.Task.Fn == nil {
		return nil, fmt.Errorf("%w: task %q has no callable", domain.ErrUnknownTask, req.Task.ID)
	}

	out, err := req.Task.Fn(ctx, req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", req.Task.ID, err)
	}
	return out, nil
}
