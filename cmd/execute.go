// Package cmd contains the copilot CLI: command routing, flag parsing and
// the thin glue between configuration and the application packages.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.0.1"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point for the copilot CLI.
//
// Design: all application logic lives in the cmd package, leaving main.go
// as a minimal entry point.
func Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return nil
	}

	logger := initLogger()
	slog.SetDefault(logger)

	switch args[0] {
	case "version", "--version", "-v":
		return printVersionInfo()
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "serve":
		return runServe()
	case "index":
		return runIndex(args[1:])
	case "ask":
		return runAsk(args[1:])
	case "eval":
		return runEval(args[1:])
	case "mcp":
		return runMCP()
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// initLogger initializes the structured logger.
//
// Log level is controlled by the DEBUG environment variable. Logs go to
// stderr: stdout is reserved for command output and, in MCP mode, JSON-RPC
// messages.
func initLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if os.Getenv("DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printHelp() {
	fmt.Println(`copilot - codebase question answering

Usage:
  copilot serve                      Start the HTTP API server
  copilot index <url-or-path>        Index a repository and wait for completion
  copilot ask <repo-id> <question>   Ask a question about an indexed repository
  copilot eval <repo-id> <dataset>   Run the evaluation harness
  copilot mcp                        Start the MCP server on stdio
  copilot version                    Show version information
  copilot help                       Show this help

Environment:
  GEMINI_API_KEY     API key for the gemini provider
  OPENAI_API_KEY     API key for the openai provider
  GITHUB_TOKEN       Token for cloning private repositories
  DATABASE_URL       PostgreSQL connection URL
  DEBUG              Enable debug logging when set`)
}
