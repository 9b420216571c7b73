package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/planweave/planweave/internal/broker"
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/domain/plan"
	"github.com/planweave/planweave/internal/engine"
	"github.com/planweave/planweave/internal/port/sink"
	"github.com/planweave/planweave/internal/registry"
	"github.com/planweave/planweave/internal/signing"
)

// Version reported by /health and the agent card.
const Version = "0.1.0"

// maxSubPlanBytes bounds inbound /execute-sub-plan payloads.
const maxSubPlanBytes = 4 << 20

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	reg    *registry.Registry
	runner *engine.Runner
	secret string
	agent  config.Agent

	// shared receives every event of every server-mode run in addition to
	// the per-request NDJSON stream. Optional.
	shared sink.Sink
}

// NewHandlers creates the handler set. shared may be nil.
func NewHandlers(reg *registry.Registry, runner *engine.Runner, secret string, agentCfg config.Agent, shared sink.Sink) *Handlers {
	return &Handlers{
		reg:    reg,
		runner: runner,
		secret: secret,
		agent:  agentCfg,
		shared: shared,
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// configurationResponse is the registry snapshot served to peers. The shape
// matches what the discovery client expects from external agents.
type configurationResponse struct {
	Agents []registry.AgentSnapshot `json:"agents"`
}

// GetConfiguration returns the full registry snapshot: every agent with its
// complete task schemas.
func (h *Handlers) GetConfiguration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configurationResponse{Agents: h.reg.Describe(true)})
}

// AgentCard serves the discovery card at /.well-known/agent.json.
func (h *Handlers) AgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildAgentCard(h.agent, Version, h.reg))
}

// ExecuteSubPlan verifies a signed sub-plan envelope and, only after the
// signature checks out, interprets the steps while streaming events to the
// caller as NDJSON. A tampered or malformed envelope is rejected with an
// HTTP error before any step executes. Once streaming has begun, failures
// surface as the run's single terminal ERROR event instead.
func (h *Handlers) ExecuteSubPlan(w http.ResponseWriter, r *http.Request) {
	env, ok := readJSON[signing.Envelope](w, r, maxSubPlanBytes)
	if !ok {
		return
	}

	if err := signing.Verify(&env, h.secret); err != nil {
		slog.Warn("sub-plan rejected",
			"plan_id", env.PlanID,
			"sub_id", env.SubID,
			"error", err,
		)
		writeDomainError(w, err)
		return
	}

	var steps []plan.Step
	if err := json.Unmarshal(env.SubPlan, &steps); err != nil {
		writeDomainError(w, fmt.Errorf("%w: decode sub_plan: %v", domain.ErrMalformedPayload, err))
		return
	}
	if len(steps) == 0 {
		writeDomainError(w, fmt.Errorf("%w: sub_plan has no steps", domain.ErrMalformedPayload))
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	streamed := false

	stream := broker.NewCallbackSink(func(_ context.Context, ev event.Event) error {
		if !streamed {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			streamed = true
		}
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("stream event: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	br := broker.New(broker.NewFanOutSink(stream, h.shared))
	inputs := engine.Inputs{Values: env.Inputs}

	_, err := h.runner.ExecuteSteps(r.Context(), br, env.PlanID, steps, inputs)
	if err != nil && !streamed {
		// Run never started (e.g. admission under a cancelled context), so
		// no terminal event was streamed.
		writeDomainError(w, err)
	}
}
