// Package platform provides an HTTP client for the hosting platform API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/plan"
	"github.com/planweave/planweave/internal/resilience"
)

// GenerateRequest asks the platform to derive a plan from a user message and
// the set of agents this process can execute.
type GenerateRequest struct {
	ModuleID string       `json:"module_id,omitempty"`
	Context  string       `json:"context"`
	Message  string       `json:"message"`
	Files    []string     `json:"files"`
	Agents   []AgentOffer `json:"agents"`
}

// AgentOffer describes one locally registered agent and its tasks in the
// shape the plan generator expects.
type AgentOffer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       any    `json:"tasks"`
}

// Module is a platform-side module listing entry.
type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Message is one progress record returned by a hosted execution.
type Message struct {
	PlanID    string         `json:"plan_id"`
	Event     string         `json:"event"`
	NodeIndex int            `json:"node_index,omitempty"`
	NodeName  string         `json:"node_name,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ExecuteResult is the hosted execution response: the output value plus the
// progress messages the platform recorded while running.
type ExecuteResult struct {
	Output   any       `json:"output"`
	Messages []Message `json:"messages,omitempty"`
}

// Client talks to the hosting platform API. Deadlines are taken from the
// caller's context; the client imposes none of its own.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a platform client authenticated with the given API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// GeneratePlan asks the platform to produce an executable plan.
func (c *Client) GeneratePlan(ctx context.Context, req GenerateRequest) (*plan.Plan, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/generate_plan", body)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	var p plan.Plan
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, fmt.Errorf("%w: decode generated plan: %v", domain.ErrMalformedPayload, err)
	}
	return &p, nil
}

// ExecuteSubPlan runs the identified sub-plan on the platform with the given
// resolved inputs and returns its output plus progress messages.
func (c *Client) ExecuteSubPlan(ctx context.Context, planID string, subID int, inputs map[string]any) (*ExecuteResult, error) {
	body, err := json.Marshal(map[string]any{
		"inputs": inputs,
		"stream": false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	path := fmt.Sprintf("/plan/%s/sub_plan/%d/execute", planID, subID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("execute sub-plan %d: %w", subID, err)
	}

	var result ExecuteResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("%w: decode execute response: %v", domain.ErrMalformedPayload, err)
	}
	return &result, nil
}

// ExecuteTask runs a single hosted task with bound inputs.
func (c *Client) ExecuteTask(ctx context.Context, planID, taskID string, inputs map[string]any) (*ExecuteResult, error) {
	body, err := json.Marshal(map[string]any{
		"inputs": inputs,
		"stream": false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	path := fmt.Sprintf("/plan/%s/task/%s/execute", planID, taskID)
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("execute task %s: %w", taskID, err)
	}

	var result ExecuteResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("%w: decode execute response: %v", domain.ErrMalformedPayload, err)
	}
	return &result, nil
}

// ListModules returns the platform's module catalog.
func (c *Client) ListModules(ctx context.Context) ([]Module, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/list", nil)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}

	var modules []Module
	if err := json.Unmarshal(resp, &modules); err != nil {
		return nil, fmt.Errorf("unmarshal modules: %w", err)
	}
	return modules, nil
}

// Health checks whether the platform is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		// The platform reports application failures with HTTP error codes;
		// the body carries the remote detail verbatim.
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: platform API error %d: %s",
				domain.ErrRemoteExecution, resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// ParseTimestamp converts a platform message timestamp to a time value,
// falling back to now for absent or unparseable values.
func (m Message) ParseTimestamp() time.Time {
	if m.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
