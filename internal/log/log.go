// Package log provides the logging infrastructure for the copilot service.
//
// Loggers are injected through constructors rather than read from a global,
// so each subsystem (pipeline, retriever, API server) tags its entries with
// its own component attribute and tests can swap in a silent logger.
//
// Usage:
//
//	// One logger at startup; stderr keeps stdout free for MCP JSON-RPC.
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//
//	// Each subsystem gets a scoped child.
//	ctrl := pipeline.New(splitter, batcher, index, store,
//	    logger.With("component", "pipeline"))
//	r := retrieve.New(embedder, index, store,
//	    retrieve.WithLogger(logger.With("component", "retrieve")))
//
//	// In tests, discard output or capture it with NewWithWriter.
//	testLogger := log.NewNop()
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a type alias for *slog.Logger.
// Using the standard library type directly provides full compatibility with
// the slog ecosystem and access to With() for adding context.
//
// Components should accept log.Logger as a dependency.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries. Default: false
	AddSource bool
}

// New creates a new logger with the given configuration.
// Output is written to os.Stderr by default (stdout is reserved for
// command output and, in MCP mode, JSON-RPC messages).
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Tests use it to capture
// output in a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test-only: wiring it
// into the service would silently drop every log line.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
