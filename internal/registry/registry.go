// Package registry holds agent and task metadata, populated once at process
// start and read-only during runs.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/task"
)

// Registry maps agent ids to agents and their owned tasks. Safe for
// concurrent reads; registration happens before any plan executes.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
	tasks  map[string]map[string]*task.Task // agent id -> task id -> task
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*agent.Agent),
		tasks:  make(map[string]map[string]*task.Task),
	}
}

// RegisterAgent adds an agent. Fails with ErrDuplicateIdentifier when the id
// is already taken.
func (r *Registry) RegisterAgent(a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID]; exists {
		return fmt.Errorf("%w: agent %q", domain.ErrDuplicateIdentifier, a.ID)
	}
	r.agents[a.ID] = a
	return nil
}

// RegisterTask adds a task under its owning agent. The agent must already be
// registered. Fails with ErrDuplicateIdentifier when the task id is already
// taken for that agent.
func (r *Registry) RegisterTask(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[t.AgentID]; !ok {
		return fmt.Errorf("%w: agent %q for task %q", domain.ErrUnknownTask, t.AgentID, t.ID)
	}
	owned := r.tasks[t.AgentID]
	if owned == nil {
		owned = make(map[string]*task.Task)
		r.tasks[t.AgentID] = owned
	}
	if _, exists := owned[t.ID]; exists {
		return fmt.Errorf("%w: task %q on agent %q", domain.ErrDuplicateIdentifier, t.ID, t.AgentID)
	}
	owned[t.ID] = t
	return nil
}

// ResolveAgent returns the agent for the given id.
func (r *Registry) ResolveAgent(agentID string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrUnknownTask, agentID)
	}
	return a, nil
}

// ResolveTask returns the task owned by the given agent.
func (r *Registry) ResolveTask(agentID, taskID string) (*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned, ok := r.tasks[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrUnknownTask, agentID)
	}
	t, ok := owned[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %q on agent %q", domain.ErrUnknownTask, taskID, agentID)
	}
	return t, nil
}

// AgentSnapshot is one agent's entry in the registry snapshot.
type AgentSnapshot struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Kind        string      `json:"kind"`
	Tasks       []task.Task `json:"tasks,omitempty"`
	TaskNames   []string    `json:"task_names,omitempty"`
}

// Describe returns a serializable snapshot of all registered agents and
// their tasks, ordered by agent id. With full=false only task names are
// included; with full=true the complete task schemas are.
func (r *Registry) Describe(full bool) []AgentSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]AgentSnapshot, 0, len(ids))
	for _, id := range ids {
		a := r.agents[id]
		snap := AgentSnapshot{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Kind:        string(a.Kind),
		}

		owned := r.tasks[id]
		taskIDs := make([]string, 0, len(owned))
		for tid := range owned {
			taskIDs = append(taskIDs, tid)
		}
		sort.Strings(taskIDs)

		if full {
			for _, tid := range taskIDs {
				snap.Tasks = append(snap.Tasks, *owned[tid])
			}
		} else {
			snap.TaskNames = taskIDs
		}
		out = append(out, snap)
	}
	return out
}

// Tasks returns the tasks owned by the given agent, ordered by id.
func (r *Registry) Tasks(agentID string) []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.tasks[agentID]
	ids := make([]string, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, owned[id])
	}
	return out
}
