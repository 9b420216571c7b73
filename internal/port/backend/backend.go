// Package backend defines the execution backend port (interface).
package backend

import (
	"context"
	"encoding/json"

	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/domain/task"
)

// Request carries everything a backend needs to execute one unit of work.
// For task steps Task and Inputs are set; for sub-plan delegation SubPlan
// carries the opaque payload plus the platform-produced signature.
type Request struct {
	PlanID string
	StepID string

	Task   *task.Task
	Inputs map[string]any

	SubID     int
	SubPlan   json.RawMessage
	SubInputs map[string]any
	Signature string

	// Relay, when non-nil, lets a remote backend re-emit progress events it
	// receives from the far side into the caller's event stream. Backends
	// must never relay terminal events; the interpreter owns run termination.
	Relay func(ctx context.Context, ev event.Event) error
}

// Backend executes work on behalf of one agent execution kind. All
// implementations surface the same result shape: a value on success, a
// classified domain error on failure.
type Backend interface {
	// Kind returns the agent execution kind this backend serves.
	Kind() agent.ExecKind

	// Execute runs the request and returns its output value.
	Execute(ctx context.Context, ag *agent.Agent, req *Request) (any, error)
}
