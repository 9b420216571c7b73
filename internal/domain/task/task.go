// Package task defines the Task entity: one operation owned by an agent.
package task

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/domain"
)

// Func is the executable reference for locally registered tasks. It receives
// the resolved input bindings and returns the step output. Implementations
// should honor ctx for long-running work.
type Func func(ctx context.Context, inputs map[string]any) (any, error)

// InputSpec describes a single task input parameter.
type InputSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// OutputSpec describes a task's output semantic type.
type OutputSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Task is registered once at process start and immutable thereafter.
// Fn is present only for locally registered tasks.
type Task struct {
	ID          string      `json:"name"`
	AgentID     string      `json:"-"`
	Description string      `json:"description,omitempty"`
	Inputs      []InputSpec `json:"inputs,omitempty"`
	Output      *OutputSpec `json:"output,omitempty"`
	Fn          Func        `json:"-"`
}

// Validate checks registration-time invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrMalformedPayload)
	}
	if t.AgentID == "" {
		return fmt.Errorf("%w: task %q has no owning agent", domain.ErrMalformedPayload, t.ID)
	}
	seen := make(map[string]bool, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Name == "" {
			return fmt.Errorf("%w: task %q has an unnamed input", domain.ErrMalformedPayload, t.ID)
		}
		if seen[in.Name] {
			return fmt.Errorf("%w: task %q input %q", domain.ErrDuplicateIdentifier, t.ID, in.Name)
		}
		seen[in.Name] = true
	}
	return nil
}

// BindDefaults fills missing optional inputs with their declared defaults and
// rejects missing required inputs.
func (t *Task) BindDefaults(inputs map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(t.Inputs))
	for k, v := range inputs {
		bound[k] = v
	}
	for _, in := range t.Inputs {
		if _, ok := bound[in.Name]; ok {
			continue
		}
		if in.Required {
			return nil, fmt.Errorf("%w: task %q missing required input %q", domain.ErrMalformedPayload, t.ID, in.Name)
		}
		if in.Default != nil {
			bound[in.Name] = in.Default
		}
	}
	return bound, nil
}
