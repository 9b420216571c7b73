package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/planweave/planweave/internal/adapter/platform"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/port/backend"
)

// Hosted executes steps on the hosting platform. Sub-plan payloads are
// opaque cargo: the platform already holds the plan, so only the sub-plan id
// and resolved inputs travel. Progress messages from the platform are
// relayed into the caller's event stream, minus remote terminal events.
type Hosted struct {
	client *platform.Client
}

// NewHosted creates the platform-backed backend.
func NewHosted(client *platform.Client) *Hosted {
	return &Hosted{client: client}
}

// Kind implements backend.Backend.
func (*Hosted) Kind() agent.ExecKind {
	return agent.KindHosted
}

// Execute runs the request on the platform and returns the remote output.
func (h *Hosted) Execute(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error) {
	var (
		result *platform.ExecuteResult
		err    error
	)
	if req.Task != nil {
		result, err = h.client.ExecuteTask(ctx, req.PlanID, req.Task.ID, req.Inputs)
	} else {
		result, err = h.client.ExecuteSubPlan(ctx, req.PlanID, req.SubID, req.SubInputs)
	}
	if err != nil {
		return nil, err
	}

	if req.Relay != nil {
		if err := relayMessages(ctx, req, result.Messages); err != nil {
			return nil, err
		}
	}
	return result.Output, nil
}

func relayMessages(ctx context.Context, req *backend.Request, msgs []platform.Message) error {
	for _, msg := range msgs {
		kind := event.Kind(msg.Event)
		if kind == "" || kind.IsTerminal() {
			continue
		}
		planID := msg.PlanID
		if planID == "" {
			planID = req.PlanID
		}
		details := msg.Details
		if msg.NodeName != "" || msg.NodeIndex != 0 {
			if details == nil {
				details = make(map[string]any, 2)
			}
			details["node_name"] = msg.NodeName
			details["node_index"] = msg.NodeIndex
		}
		ev := event.Event{
			ID:        uuid.NewString(),
			PlanID:    planID,
			Event:     kind,
			Details:   details,
			Timestamp: msg.ParseTimestamp(),
		}
		if err := req.Relay(ctx, ev); err != nil {
			return fmt.Errorf("relay %s: %w", msg.Event, err)
		}
	}
	return nil
}
