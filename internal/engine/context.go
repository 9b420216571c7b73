// Package engine implements the plan interpreter: a single-threaded-per-run
// evaluator of the declarative step graph.
package engine

import (
	"fmt"

	"github.com/planweave/planweave/internal/domain"
)

// Inputs are the top-level inputs supplied to one run.
type Inputs struct {
	Message string
	Files   []string
	Values  map[string]any
}

// Reserved reference names resolving to run inputs.
const (
	refMessage = "message"
	refFiles   = "files"
)

// ExecContext is the per-run mutable state: step outputs, loop variable
// frames, and the run's top-level inputs. Private to one run, no cross-run
// synchronization needed.
type ExecContext struct {
	planID  string
	inputs  Inputs
	outputs map[string]any
	frames  []*frame
}

// frame is one loop scope. values holds the loop variable and body step
// bindings; seen tracks which step ids the current iteration has already
// bound, and is reset between iterations so bindings carry across them.
type frame struct {
	values map[string]any
	seen   map[string]bool
}

// NewContext creates the execution context for one run.
func NewContext(planID string, inputs Inputs) *ExecContext {
	return &ExecContext{
		planID:  planID,
		inputs:  inputs,
		outputs: make(map[string]any),
	}
}

// PlanID returns the id of the plan this context belongs to.
func (ec *ExecContext) PlanID() string { return ec.planID }

// Inputs returns the run's top-level inputs.
func (ec *ExecContext) Inputs() Inputs { return ec.inputs }

// BindOutput records a step's produced output. Inside a loop the binding
// lands in the innermost frame: a later iteration of the same loop may bind
// the id again (overwriting the earlier value, which guards watch between
// iterations), but binding it twice within one iteration fails with
// ErrDuplicateBinding. At the top level bindings are run-global and never
// rebindable.
func (ec *ExecContext) BindOutput(stepID string, value any) error {
	if n := len(ec.frames); n > 0 {
		f := ec.frames[n-1]
		if f.seen[stepID] {
			return fmt.Errorf("%w: step %q", domain.ErrDuplicateBinding, stepID)
		}
		f.seen[stepID] = true
		f.values[stepID] = value
		return nil
	}
	if _, exists := ec.outputs[stepID]; exists {
		return fmt.Errorf("%w: step %q", domain.ErrDuplicateBinding, stepID)
	}
	ec.outputs[stepID] = value
	return nil
}

// Output returns the bound output for a step id.
func (ec *ExecContext) Output(stepID string) (any, bool) {
	v, ok := ec.outputs[stepID]
	return v, ok
}

// Resolve looks up a reference: loop frames innermost-first, then step
// outputs, then supplied input values, then the reserved "message" and
// "files" names. Fails with ErrUnresolvedReference when nothing matches.
func (ec *ExecContext) Resolve(name string) (any, error) {
	for i := len(ec.frames) - 1; i >= 0; i-- {
		if v, ok := ec.frames[i].values[name]; ok {
			return v, nil
		}
	}
	if v, ok := ec.outputs[name]; ok {
		return v, nil
	}
	if v, ok := ec.inputs.Values[name]; ok {
		return v, nil
	}
	switch name {
	case refMessage:
		return ec.inputs.Message, nil
	case refFiles:
		return ec.inputs.Files, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnresolvedReference, name)
}

// PushFrame opens a loop scope.
func (ec *ExecContext) PushFrame() {
	ec.frames = append(ec.frames, &frame{
		values: make(map[string]any),
		seen:   make(map[string]bool),
	})
}

// PopFrame closes the innermost loop scope, discarding its bindings.
func (ec *ExecContext) PopFrame() {
	if len(ec.frames) > 0 {
		ec.frames = ec.frames[:len(ec.frames)-1]
	}
}

// BeginIteration starts a new iteration of the innermost loop scope: earlier
// iterations' bindings stay resolvable, but each body step may bind its id
// once more.
func (ec *ExecContext) BeginIteration() {
	if n := len(ec.frames); n > 0 {
		clear(ec.frames[n-1].seen)
	}
}

// SetVar rebinds a loop variable in the innermost frame.
func (ec *ExecContext) SetVar(name string, value any) {
	if len(ec.frames) == 0 {
		ec.PushFrame()
	}
	ec.frames[len(ec.frames)-1].values[name] = value
}
