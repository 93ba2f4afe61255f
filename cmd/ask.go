package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/app"
	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/config"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// runAsk answers a single question about an indexed repository and prints
// the answer with its citations.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	topK := fs.Int("top-k", 0, "number of source chunks to retrieve (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: copilot ask [-top-k N] <repo-id> <question>")
	}
	repoID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid repo id %q: %w", fs.Arg(0), err)
	}
	question := strings.Join(fs.Args()[1:], " ")

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

	results, err := a.Retriever.RetrieveTopK(ctx, repoID.String(), question, *topK)
	if err != nil && !errors.Is(err, vecindex.ErrNotFound) && !errors.Is(err, vecindex.ErrEmptyIndex) {
		return fmt.Errorf("retrieving sources: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No relevant code found for this question.")
		return nil
	}

	chunks := make([]chunk.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}

	answer := a.Generator.Generate(ctx, question, chunks, nil)

	fmt.Println(answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, c := range answer.Citations {
			fmt.Printf("  [%d] %s:%d-%d\n", i+1, c.FilePath, c.StartLine, c.EndLine)
		}
	}
	fmt.Printf("\nConfidence: %s  Tokens: ~%d  Cost: $%.4f\n",
		answer.Confidence, answer.TokenEstimate, answer.CostEstimate)
	return nil
}
