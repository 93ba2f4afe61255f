// Package testutil provides shared testing utilities for the copilot
// project: deterministic embedding and generation doubles, a quiet logger,
// and a PostgreSQL test container with the schema applied.
package testutil

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/koopa0/copilot/internal/embedding"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Prefer log.NewNop() when working with the internal/log package directly.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Embedder is a deterministic in-process embedding backend for tests.
// It reuses the local hash-projection embedder so identical texts always
// map to identical vectors, with call accounting on top.
type Embedder struct {
	local *embedding.Local

	mu    sync.Mutex
	calls int
	texts []string
}

// NewEmbedder creates a test embedder with the given output dimension.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{local: embedding.NewLocal(dim)}
}

// Embed records the call and returns deterministic vectors.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	e.mu.Unlock()
	return e.local.Embed(ctx, texts)
}

// Name implements embedding.Backend.
func (e *Embedder) Name() string { return "test" }

// Calls returns how many batch calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns every text embedded so far, in call order.
func (e *Embedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.texts))
	copy(out, e.texts)
	return out
}

// FailingEmbedder always returns an error, for exercising degrade paths.
type FailingEmbedder struct{}

func (FailingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (FailingEmbedder) Name() string { return "failing" }

// Completer returns scripted responses in order, then repeats the last one.
// A nil Responses slice makes every call fail.
type Completer struct {
	Responses []string
	Tokens    int

	mu    sync.Mutex
	calls int
}

// Complete returns the next scripted response.
func (c *Completer) Complete(_ context.Context, _ string) (string, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.Responses) == 0 {
		return "", 0, errors.New("generation backend unavailable")
	}
	i := min(c.calls-1, len(c.Responses)-1)
	return c.Responses[i], c.Tokens, nil
}

// Calls returns how many completions were requested.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
