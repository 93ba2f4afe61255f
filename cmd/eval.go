package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/app"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/eval"
	"github.com/koopa0/copilot/internal/store"
)

// runEval runs the evaluation harness over a question dataset and prints
// the aggregate metrics.
func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	out := fs.String("o", "", "write the JSON report to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: copilot eval [-o report.json] <repo-id> <dataset.json>")
	}
	repoID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid repo id %q: %w", fs.Arg(0), err)
	}
	datasetPath := fs.Arg(1)

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

	repo, err := a.Store.GetRepo(ctx, repoID)
	if err != nil {
		return fmt.Errorf("loading repository: %w", err)
	}
	if repo.Status != store.StatusReady {
		return fmt.Errorf("repository not ready, status: %s", repo.Status)
	}

	runner := eval.NewRunner(a.Retriever, a.Generator, logger)
	report, err := runner.Run(ctx, repoID.String(), datasetPath)
	if err != nil {
		return fmt.Errorf("running evaluation: %w", err)
	}

	fmt.Println(eval.FormatReport(report))

	if *out != "" {
		if err := eval.WriteReport(report, *out); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", *out)
	}
	return nil
}
