package log_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/koopa0/copilot/internal/log"
)

func TestNewWithWriter_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelInfo})

	logger.Info("indexing started", "repo_id", "abc")

	out := buf.String()
	if !strings.Contains(out, "indexing started") {
		t.Errorf("output = %q, want it to contain the message", out)
	}
	if !strings.Contains(out, "repo_id=abc") {
		t.Errorf("output = %q, want it to contain repo_id attribute", out)
	}
}

func TestNewWithWriter_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{JSON: true})

	logger.Info("hello")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Errorf("output = %q, want JSON object", out)
	}
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Errorf("output = %q, want JSON msg field", out)
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelWarn})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("output = %q, want debug/info filtered out", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("output = %q, want warn message present", out)
	}
}

func TestNewNop_DiscardsOutput(t *testing.T) {
	t.Parallel()

	logger := log.NewNop()
	// Must not panic; output goes nowhere.
	logger.Error("should disappear", "key", "value")
}
