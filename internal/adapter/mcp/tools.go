package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/planweave/planweave/internal/domain/task"
	"github.com/planweave/planweave/internal/port/backend"
)

// registerTools registers one MCP tool per task in the registry, named
// "<agent id>_<task id>".
func (s *Server) registerTools() {
	if s.deps.Registry == nil {
		return
	}
	var tools []mcpserver.ServerTool
	for _, snap := range s.deps.Registry.Describe(true) {
		for i := range snap.Tasks {
			tools = append(tools, s.taskTool(snap.ID, &snap.Tasks[i]))
		}
	}
	s.mcpServer.AddTools(tools...)
}

func (s *Server) taskTool(agentID string, t *task.Task) mcpserver.ServerTool {
	opts := []mcplib.ToolOption{
		mcplib.WithDescription(t.Description),
	}
	for _, in := range t.Inputs {
		opts = append(opts, inputOption(in))
	}

	name := fmt.Sprintf("%s_%s", agentID, t.ID)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool(name, opts...),
		Handler: s.taskHandler(agentID, t.ID),
	}
}

func inputOption(in task.InputSpec) mcplib.ToolOption {
	props := []mcplib.PropertyOption{
		mcplib.Description(in.Description),
	}
	if in.Required {
		props = append(props, mcplib.Required())
	}

	switch in.Type {
	case "number", "integer":
		return mcplib.WithNumber(in.Name, props...)
	case "boolean":
		return mcplib.WithBoolean(in.Name, props...)
	case "array":
		return mcplib.WithArray(in.Name, props...)
	case "object":
		return mcplib.WithObject(in.Name, props...)
	default:
		return mcplib.WithString(in.Name, props...)
	}
}

func (s *Server) taskHandler(agentID, taskID string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.deps.Dispatcher == nil {
			return mcplib.NewToolResultError("dispatcher not configured"), nil
		}

		t, err := s.deps.Registry.ResolveTask(agentID, taskID)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("resolve task %s", taskID), err), nil
		}
		ag, err := s.deps.Registry.ResolveAgent(agentID)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("resolve agent %s", agentID), err), nil
		}

		bound, err := t.BindDefaults(req.GetArguments())
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("bind inputs", err), nil
		}

		out, err := s.deps.Dispatcher.Dispatch(ctx, ag, &backend.Request{
			PlanID: "mcp-" + uuid.NewString(),
			StepID: req.Params.Name,
			Task:   t,
			Inputs: bound,
		})
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("task execution failed", err), nil
		}

		data, err := json.Marshal(map[string]any{"output": out})
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("marshal output", err), nil
		}
		return toolResultJSON(string(data)), nil
	}
}
