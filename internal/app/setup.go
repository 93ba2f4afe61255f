package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/copilot/db"
	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/embedding"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/observability"
	"github.com/koopa0/copilot/internal/pipeline"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.Store = store.New(pool, logger.With("component", "store"))

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	backend, err := provideEmbedding(g, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedding = backend
	a.Batcher = embedding.NewBatcher(backend, cfg.EmbedBatchSize, cfg.EmbeddingDimension,
		logger.With("component", "embedding"))

	index, err := provideIndex(pool, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Index = index

	retrieveOpts := []retrieve.Option{
		retrieve.WithTopK(cfg.TopK),
		retrieve.WithLogger(logger.With("component", "retrieve")),
	}
	if !cfg.Reranking {
		retrieveOpts = append(retrieveOpts, retrieve.WithoutReranking())
	}
	a.Retriever = retrieve.New(backend, index, a.Store, retrieveOpts...)

	a.Generator = generate.New(provideCompleter(g, cfg),
		generate.WithCostRate(cfg.CostPerKiloToken),
		generate.WithLogger(logger.With("component", "generate")),
	)

	splitter := chunk.New(chunk.Config{})
	a.Pipeline = pipeline.New(splitter, a.Batcher, index, a.Store,
		logger.With("component", "pipeline"))

	return a, nil
}

// provideOtelShutdown sets up tracing before Genkit initialization so the
// TracerProvider is ready when the first span starts.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := observability.Setup(ctx, cfg.Otel)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// The local provider runs without Genkit entirely.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderLocal:
		return nil, nil

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedding selects the embedding backend. Remote providers look up
// the embedder registered by their Genkit plugin; the local provider uses
// the deterministic hashing backend.
func provideEmbedding(g *genkit.Genkit, cfg *config.Config) (embedding.Backend, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return embedding.NewLocal(cfg.EmbeddingDimension), nil

	case config.ProviderOpenAI:
		embedder := genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
		if embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}
		return embedding.NewRemote(embedder, cfg.FullEmbedderName()), nil

	default: // gemini
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		if embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}
		return embedding.NewRemote(embedder, cfg.FullEmbedderName()), nil
	}
}

// provideIndex selects the vector index backend.
func provideIndex(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (vecindex.Index, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendPGVector:
		return vecindex.NewPG(pool, logger.With("component", "vecindex")), nil
	default:
		flat, err := vecindex.NewFlat(cfg.IndexDir, logger.With("component", "vecindex"))
		if err != nil {
			return nil, fmt.Errorf("creating flat index: %w", err)
		}
		return flat, nil
	}
}

// provideCompleter returns the answer backend, or nil for the local
// provider. A nil completer degrades the generator to extractive answers.
func provideCompleter(g *genkit.Genkit, cfg *config.Config) generate.Completer {
	if g == nil || cfg.Provider == config.ProviderLocal {
		return nil
	}
	return generate.NewGenkitCompleter(g, cfg.FullModelName())
}
