// Package mcp exposes the copilot over the Model Context Protocol so that
// MCP clients (editors, agents) can query indexed repositories.
//
// Three tools are registered: list_repositories, search_code and
// ask_codebase. Responses are JSON-encoded text content; clients parse it.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server around the retrieval and generation stack.
type Server struct {
	mcpServer *mcp.Server
	deps      Deps
}

// Config holds MCP server identity.
type Config struct {
	Name    string
	Version string
}

// NewServer creates an MCP server and registers the copilot tools.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{mcpServer: mcpServer, deps: deps}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on the given transport. Blocks until the transport closes
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}
