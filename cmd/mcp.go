package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/copilot/internal/app"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/mcp"
)

// runMCP initializes and starts the MCP server on stdio transport.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Stdout carries JSON-RPC; logging must stay on stderr.
	logger := slog.Default()
	logger.Info("starting MCP server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Name:    "copilot",
		Version: AppVersion,
	}, mcp.Deps{
		Repos:     a.Store,
		Retriever: a.Retriever,
		Generator: a.Generator,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	logger.Info("MCP server ready", "name", "copilot", "transport", "stdio")

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	logger.Info("MCP server shut down gracefully")
	return nil
}
