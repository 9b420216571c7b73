// Package mcp exposes registered tasks as Model Context Protocol tools, so
// MCP clients can invoke them through the same dispatcher plan runs use.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/planweave/planweave/internal/domain/agent"
	"github.com/planweave/planweave/internal/port/backend"
	"github.com/planweave/planweave/internal/registry"
)

// Dispatcher routes tool invocations to execution backends. Satisfied by
// dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, ag *agent.Agent, req *backend.Request) (any, error)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the dependencies tool handlers need.
type ServerDeps struct {
	Registry   *registry.Registry
	Dispatcher Dispatcher
}

// Server serves registered tasks over the streamable HTTP MCP transport.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates an MCP server and registers one tool per task known to
// the registry at construction time.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start begins serving in the background.
func (s *Server) Start() error {
	handler := AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: handler}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
