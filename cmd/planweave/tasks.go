package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/domain/task"
	"github.com/planweave/planweave/internal/registry"
)

// registerBuiltins registers the local utility agent every instance ships
// with. Deployments add their own local tasks alongside these, and hosted or
// external agents through configuration.
func registerBuiltins(reg *registry.Registry) error {
	if err := reg.RegisterAgent(&agent.Agent{
		ID:          "toolkit",
		Name:        "Toolkit",
		Description: "Built-in local utility tasks",
		Kind:        agent.KindLocal,
	}); err != nil {
		return err
	}

	builtins := []*task.Task{
		{
			ID:          "echo",
			AgentID:     "toolkit",
			Description: "Return the input value unchanged",
			Inputs:      []task.InputSpec{{Name: "value", Type: "object", Required: true}},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				return in["value"], nil
			},
		},
		{
			ID:          "concat",
			AgentID:     "toolkit",
			Description: "Join string parts with a separator",
			Inputs: []task.InputSpec{
				{Name: "parts", Type: "array", Required: true},
				{Name: "separator", Type: "string", Default: ""},
			},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				parts, ok := in["parts"].([]any)
				if !ok {
					return nil, fmt.Errorf("parts must be an array, got %T", in["parts"])
				}
				sep, _ := in["separator"].(string)
				strs := make([]string, len(parts))
				for i, p := range parts {
					strs[i] = fmt.Sprint(p)
				}
				return strings.Join(strs, sep), nil
			},
		},
		{
			ID:          "sum",
			AgentID:     "toolkit",
			Description: "Sum a list of numbers",
			Inputs:      []task.InputSpec{{Name: "values", Type: "array", Required: true}},
			Fn: func(_ context.Context, in map[string]any) (any, error) {
				values, ok := in["values"].([]any)
				if !ok {
					return nil, fmt.Errorf("values must be an array, got %T", in["values"])
				}
				var total float64
				for i, v := range values {
					n, ok := v.(float64)
					if !ok {
						return nil, fmt.Errorf("values[%d] is not a number: %v", i, v)
					}
					total += n
				}
				return total, nil
			},
		},
	}

	for _, t := range builtins {
		if err := reg.RegisterTask(t); err != nil {
			return err
		}
	}
	return nil
}
