package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/planweave/planweave/internal/discovery"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/event"
	"github.com/planweave/planweave/internal/port/backend"
	"github.com/planweave/planweave/internal/resilience"
	"github.com/planweave/planweave/internal/signing"
)

// External sends signed sub-plans to externally registered agents and
// consumes their streamed event records. The signature travels opaquely from
// the plan; this backend never computes one.
type External struct {
	httpClient *http.Client
	breakers   *resilience.Set
	disc       *discovery.Client
}

// NewExternal creates the external-agent backend. disc and breakers may be
// nil to skip discovery checks and circuit breaking.
func NewExternal(disc *discovery.Client, breakers *resilience.Set) *External {
	return &External{
		httpClient: &http.Client{},
		breakers:   breakers,
		disc:       disc,
	}
}

// Kind implements backend.Backend.
func (*External) Kind() agent.ExecKind {
	return agent.KindExternal
}

// Execute posts the sub-plan to the agent's /execute-sub-plan endpoint and
// reads the NDJSON event stream until a terminal event.
func (e *External) Execute(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error) {
	if req.Task != nil {
		// Task steps only bind to local and hosted agents; external agents
		// accept platform-signed sub-plans, which this process cannot mint.
		return nil, fmt.Errorf("%w: task steps cannot target external agent %q", domain.ErrMalformedPayload, ag.ID)
	}
	if ag.Endpoint == "" {
		return nil, fmt.Errorf("%w: external agent %q has no endpoint", domain.ErrBackendUnavailable, ag.ID)
	}

	if e.disc != nil {
		if _, err := e.disc.Fetch(ctx, ag.Endpoint); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(signing.Envelope{
		PlanID:    req.PlanID,
		SubID:     req.SubID,
		SubPlan:   req.SubPlan,
		Inputs:    req.SubInputs,
		Signature: req.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	var out any
	call := func() error {
		var callErr error
		out, callErr = e.post(ctx, ag, req, body)
		return callErr
	}
	if err := e.breakers.Execute(ag.Endpoint, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *External) post(ctx context.Context, ag *agent.Agent, req *backend.Request, body []byte) (any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ag.Endpoint+"/execute-sub-plan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: agent %q rejected the envelope: %s", domain.ErrInvalidSignature, ag.ID, data)
		case http.StatusBadRequest:
			return nil, fmt.Errorf("%w: agent %q: %s", domain.ErrMalformedPayload, ag.ID, data)
		default:
			return nil, fmt.Errorf("%w: agent %q returned %d: %s", domain.ErrRemoteExecution, ag.ID, resp.StatusCode, data)
		}
	}

	return e.consumeStream(ctx, ag, req, resp.Body)
}

// consumeStream reads event records line by line until a terminal event.
// Non-terminal events are relayed into the caller's stream; the terminal
// event yields the output or the classified remote error.
func (e *External) consumeStream(ctx context.Context, ag *agent.Agent, req *backend.Request, r io.Reader) (any, error) {
	sc := bufio.NewScanner(r)
	// Step outputs ride inside event records; allow large lines.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("%w: event record from agent %q: %v", domain.ErrMalformedPayload, ag.ID, err)
		}

		switch ev.Event {
		case event.KindDone:
			var out any
			if ev.Details != nil {
				out = ev.Details["output"]
			}
			return out, nil
		case event.KindError:
			return nil, remoteError(ag, ev.Details)
		case event.KindCancelled:
			return nil, fmt.Errorf("%w: agent %q cancelled the sub-plan", domain.ErrCancelled, ag.ID)
		}

		if req.Relay != nil {
			if err := req.Relay(ctx, ev); err != nil {
				return nil, fmt.Errorf("relay %s: %w", ev.Event, err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream from agent %q: %w", ag.ID, err)
	}
	return nil, fmt.Errorf("%w: agent %q closed the stream without a terminal event", domain.ErrRemoteExecution, ag.ID)
}

// remoteError maps a remote ERROR event back onto the local taxonomy,
// keeping the remote detail verbatim.
func remoteError(ag *agent.Agent, details map[string]any) error {
	kind, _ := details["kind"].(string)
	detail, _ := details["error"].(string)
	if sentinel := domain.ByKind(kind); sentinel != nil {
		return fmt.Errorf("%w: agent %q: %s", sentinel, ag.ID, detail)
	}
	return fmt.Errorf("%w: agent %q: %s", domain.ErrRemoteExecution, ag.ID, detail)
}
