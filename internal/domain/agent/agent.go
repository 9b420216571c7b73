// Package agent defines the Agent entity, the capability boundary that owns tasks.
package agent

import (
	"fmt"

	"github.com/planweave/planweave/internal/domain"
)

// ExecKind selects the execution strategy for an agent's work.
type ExecKind string

const (
	// KindLocal agents run registered Go functions in-process.
	KindLocal ExecKind = "local"
	// KindHosted agents are resolved and executed by the hosting platform.
	KindHosted ExecKind = "hosted"
	// KindExternal agents are reached over HTTP at a configured endpoint.
	KindExternal ExecKind = "external"
)

// Agent owns zero or more tasks. Registered once at process start,
// immutable thereafter.
type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Kind        ExecKind `json:"kind"`

	// External agents only.
	Endpoint string `json:"endpoint,omitempty"`
	Secret   string `json:"-"` // shared signing secret, never serialized
}

// Validate checks the fields required for the agent's kind.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrMalformedPayload)
	}
	switch a.Kind {
	case KindLocal, KindHosted:
	case KindExternal:
		if a.Endpoint == "" {
			return fmt.Errorf("%w: external agent %q needs an endpoint", domain.ErrMalformedPayload, a.ID)
		}
	default:
		return fmt.Errorf("%w: agent %q has unknown kind %q", domain.ErrMalformedPayload, a.ID, a.Kind)
	}
	return nil
}
