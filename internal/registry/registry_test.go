package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/task"
	"github.com/planweave/planweave/internal/registry"
)

func seedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	agents := []*agent.Agent{
		{ID: "writer", Name: "Writer", Kind: agent.KindLocal},
		{ID: "cloud", Name: "Cloud", Kind: agent.KindHosted},
		{ID: "peer", Name: "Peer", Kind: agent.KindExternal, Endpoint: "http://peer:8080"},
	}
	for _, a := range agents {
		if err := reg.RegisterAgent(a); err != nil {
			t.Fatalf("RegisterAgent %s: %v", a.ID, err)
		}
	}

	err := reg.RegisterTask(&task.Task{
		ID: "summarize", AgentID: "writer",
		Description: "Summarize text",
		Inputs:      []task.InputSpec{{Name: "text", Type: "string", Required: true}},
		Fn:          func(context.Context, map[string]any) (any, error) { return "", nil },
	})
	if err != nil {
		t.Fatalf("RegisterTask: %v", err)
	}
	return reg
}

func TestRegisterDuplicateAgent(t *testing.T) {
	reg := seedRegistry(t)

	err := reg.RegisterAgent(&agent.Agent{ID: "writer", Kind: agent.KindLocal})
	if !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("err = %v, want ErrDuplicateIdentifier", err)
	}
}

func TestRegisterDuplicateTask(t *testing.T) {
	reg := seedRegistry(t)

	err := reg.RegisterTask(&task.Task{ID: "summarize", AgentID: "writer"})
	if !errors.Is(err, domain.ErrDuplicateIdentifier) {
		t.Fatalf("err = %v, want ErrDuplicateIdentifier", err)
	}
}

func TestRegisterTaskSameIDDifferentAgents(t *testing.T) {
	reg := seedRegistry(t)

	// Task ids are scoped per agent.
	err := reg.RegisterTask(&task.Task{ID: "summarize", AgentID: "cloud"})
	if err != nil {
		t.Fatalf("RegisterTask on second agent: %v", err)
	}
}

func TestRegisterTaskUnknownAgent(t *testing.T) {
	reg := seedRegistry(t)

	err := reg.RegisterTask(&task.Task{ID: "x", AgentID: "ghost"})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("err = %v, want ErrUnknownTask", err)
	}
}

func TestRegisterExternalAgentNeedsEndpoint(t *testing.T) {
	reg := registry.New()

	err := reg.RegisterAgent(&agent.Agent{ID: "peer", Kind: agent.KindExternal})
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestResolve(t *testing.T) {
	reg := seedRegistry(t)

	a, err := reg.ResolveAgent("writer")
	if err != nil || a.Name != "Writer" {
		t.Fatalf("ResolveAgent = %v, %v", a, err)
	}

	tk, err := reg.ResolveTask("writer", "summarize")
	if err != nil || tk.ID != "summarize" {
		t.Fatalf("ResolveTask = %v, %v", tk, err)
	}

	if _, err := reg.ResolveAgent("ghost"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("ResolveAgent(ghost) = %v", err)
	}
	if _, err := reg.ResolveTask("writer", "ghost"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("ResolveTask(writer, ghost) = %v", err)
	}
	if _, err := reg.ResolveTask("cloud", "summarize"); !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("task resolution must be scoped to the owning agent, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	reg := seedRegistry(t)

	brief := reg.Describe(false)
	if len(brief) != 3 {
		t.Fatalf("agents = %d, want 3", len(brief))
	}
	// Ordered by agent id.
	if brief[0].ID != "cloud" || brief[1].ID != "peer" || brief[2].ID != "writer" {
		t.Errorf("order = %s, %s, %s", brief[0].ID, brief[1].ID, brief[2].ID)
	}
	// Brief snapshots carry names only.
	writer := brief[2]
	if len(writer.Tasks) != 0 || len(writer.TaskNames) != 1 || writer.TaskNames[0] != "summarize" {
		t.Errorf("brief writer snapshot = %+v", writer)
	}

	full := reg.Describe(true)
	if len(full[2].Tasks) != 1 || full[2].Tasks[0].ID != "summarize" {
		t.Errorf("full writer snapshot = %+v", full[2])
	}
	if len(full[2].Tasks[0].Inputs) != 1 {
		t.Errorf("task schema lost inputs: %+v", full[2].Tasks[0])
	}
}
