package http

import (
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/registry"
)

// AgentCard advertises this instance's identity and task surface to peers,
// served from /.well-known/agent.json.
type AgentCard struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Version      string  `json:"version"`
	Skills       []Skill `json:"skills"`
	Capabilities struct {
		Streaming bool `json:"streaming"`
	} `json:"capabilities"`
}

// Skill describes a single invokable task.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// buildAgentCard derives the card from the registry: one skill per
// registered task, named "<agent id>/<task id>".
func buildAgentCard(cfg config.Agent, version string, reg *registry.Registry) AgentCard {
	card := AgentCard{
		Name:        cfg.Name,
		Description: cfg.Description,
		URL:         cfg.BaseURL,
		Version:     version,
	}
	card.Capabilities.Streaming = true

	for _, snap := range reg.Describe(true) {
		for i := range snap.Tasks {
			t := &snap.Tasks[i]
			card.Skills = append(card.Skills, Skill{
				ID:          snap.ID + "/" + t.ID,
				Name:        t.ID,
				Description: t.Description,
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			})
		}
	}
	return card
}
