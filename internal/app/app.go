// Package app wires configuration, storage, embedding, retrieval and
// generation into a runnable application. Setup is the single place where
// concrete backends are chosen; everything downstream depends on interfaces.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/embedding"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/pipeline"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// App holds the assembled application.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit // nil for the local provider
	DBPool    *pgxpool.Pool
	Store     *store.Store
	Embedding embedding.Backend
	Batcher   *embedding.Batcher
	Index     vecindex.Index
	Retriever *retrieve.Retriever
	Generator *generate.Generator
	Pipeline  *pipeline.Controller

	otelCleanup func()
}

// Close releases all resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
