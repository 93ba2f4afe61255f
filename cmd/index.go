package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/koopa0/copilot/internal/app"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/source"
	"github.com/koopa0/copilot/internal/store"
)

// runIndex indexes a repository from a git URL or a local directory and
// waits for the run to finish.
func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	branch := fs.String("branch", "main", "branch to clone")
	name := fs.String("name", "", "display name (defaults to the last URL path segment)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: copilot index [-branch B] [-name N] <url-or-path>")
	}
	target := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	displayName := *name
	if displayName == "" {
		parts := strings.Split(strings.TrimSuffix(target, "/"), "/")
		displayName = parts[len(parts)-1]
	}

	repoID, err := a.Store.CreateRepo(ctx, target, *branch, displayName)
	if err != nil {
		return fmt.Errorf("creating repository record: %w", err)
	}

	var src source.FileSource
	if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
		src = source.NewDir(target, logger)
	} else {
		workDir := filepath.Join(cfg.CloneDir, repoID.String())
		src = source.NewGit(target, *branch, cfg.GitHubToken, workDir, logger)
	}

	fmt.Printf("Indexing %s (repo %s)...\n", target, repoID)
	status, err := a.Pipeline.RunSync(ctx, repoID, src)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	if status != store.StatusReady {
		return fmt.Errorf("indexing finished with status %s", status)
	}

	repo, err := a.Store.GetRepo(ctx, repoID)
	if err != nil {
		return fmt.Errorf("loading repository: %w", err)
	}
	fmt.Printf("Done: %d files, %d chunks\n", repo.FileCount, repo.ChunkCount)
	fmt.Printf("Repo ID: %s\n", repoID)
	return nil
}
