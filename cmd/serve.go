package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/api"
	"github.com/koopa0/copilot/internal/app"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/source"
)

// runServe initializes the application and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	repoHandler := api.NewRepoHandler(a.Store, a.Pipeline, gitSourceFactory(cfg, logger), logger)
	chatHandler := api.NewChatHandler(a.Store, a.Retriever, a.Generator, logger)

	server := api.NewServer(repoHandler, chatHandler, a.DBPool, api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSOrigins,
	}, logger)

	return server.Run(ctx, cfg.ListenAddr)
}

// gitSourceFactory clones each repository into its own directory under the
// configured clone dir. A request-supplied token wins over the configured one.
func gitSourceFactory(cfg *config.Config, logger *slog.Logger) api.SourceFactory {
	return func(repoID uuid.UUID, url, branch, token string) source.FileSource {
		if token == "" {
			token = cfg.GitHubToken
		}
		workDir := filepath.Join(cfg.CloneDir, repoID.String())
		return source.NewGit(url, branch, token, workDir, logger)
	}
}
