// Package pipeline drives a repository through the indexing state machine:
// queued -> indexing -> ready or error. Each run is an explicit job with a
// typed terminal state; callers observe completion through the job rather
// than firing and forgetting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/embedding"
	"github.com/koopa0/copilot/internal/source"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// ErrNoChunks indicates the source produced no indexable content. An empty
// repository is a hard failure, not an empty success.
var ErrNoChunks = errors.New("pipeline: no indexable content in repository")

// RepoStore is the durable side of the pipeline: status transitions and
// chunk persistence.
type RepoStore interface {
	SetStatus(ctx context.Context, id uuid.UUID, status store.Status, errMsg string) error
	SaveChunks(ctx context.Context, repoID uuid.UUID, chunks []chunk.Chunk) error
}

// IndexBuilder builds a repository's vector index atomically.
type IndexBuilder interface {
	Build(ctx context.Context, repoID string, entries []vecindex.Entry) error
}

// Job tracks one indexing run. Its terminal state is observable by polling
// State or by waiting on Done.
type Job struct {
	RepoID uuid.UUID

	mu         sync.Mutex
	state      store.Status
	err        error
	fileCount  int
	chunkCount int
	done       chan struct{}
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the job's current state.
func (j *Job) State() store.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure that terminated the job, nil while running or
// after success.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Counts returns the file and chunk counts recorded by a successful run.
func (j *Job) Counts() (files, chunks int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileCount, j.chunkCount
}

// Wait blocks until the job terminates or ctx expires, returning the
// terminal state and the job error if it failed.
func (j *Job) Wait(ctx context.Context) (store.Status, error) {
	select {
	case <-j.done:
		return j.State(), j.Err()
	case <-ctx.Done():
		return j.State(), ctx.Err()
	}
}

func (j *Job) finish(state store.Status, files, chunks int, err error) {
	j.mu.Lock()
	j.state = state
	j.err = err
	j.fileCount = files
	j.chunkCount = chunks
	j.mu.Unlock()
	close(j.done)
}

// Controller coordinates chunking, embedding, index building, and
// persistence for indexing runs.
type Controller struct {
	splitter *chunk.Splitter
	batcher  *embedding.Batcher
	index    IndexBuilder
	repos    RepoStore
	logger   *slog.Logger
}

// New creates a Controller.
func New(splitter *chunk.Splitter, batcher *embedding.Batcher, index IndexBuilder, repos RepoStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		splitter: splitter,
		batcher:  batcher,
		index:    index,
		repos:    repos,
		logger:   logger,
	}
}

// Run starts an indexing run in the background and returns its job handle.
// Failures are captured on the job and in the repository's error state;
// they never crash the host process.
func (c *Controller) Run(ctx context.Context, repoID uuid.UUID, src source.FileSource) *Job {
	job := &Job{RepoID: repoID, state: store.StatusIndexing, done: make(chan struct{})}
	go func() {
		files, chunks, err := c.execute(ctx, repoID, src)
		if err != nil {
			c.logger.Error("indexing failed", "repo_id", repoID, "error", err)
			if statusErr := c.repos.SetStatus(ctx, repoID, store.StatusError, err.Error()); statusErr != nil {
				c.logger.Error("recording error state failed", "repo_id", repoID, "error", statusErr)
			}
			job.finish(store.StatusError, 0, 0, err)
			return
		}
		job.finish(store.StatusReady, files, chunks, nil)
	}()
	return job
}

// RunSync runs an indexing run to completion on the calling goroutine.
func (c *Controller) RunSync(ctx context.Context, repoID uuid.UUID, src source.FileSource) (store.Status, error) {
	return c.Run(ctx, repoID, src).Wait(ctx)
}

// execute performs the pipeline stages in order. The prior ready state's
// data stays authoritative until both the index build and the chunk save
// complete; the index swap is atomic and the chunk replacement is one
// transaction.
func (c *Controller) execute(ctx context.Context, repoID uuid.UUID, src source.FileSource) (int, int, error) {
	if err := c.repos.SetStatus(ctx, repoID, store.StatusIndexing, ""); err != nil {
		return 0, 0, fmt.Errorf("entering indexing state: %w", err)
	}

	files, err := src.Files(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("acquiring source files: %w", err)
	}

	var chunks []chunk.Chunk
	for _, f := range files {
		chunks = append(chunks, c.splitter.Split(f.Content, f.Path, f.Language)...)
	}
	if len(chunks) == 0 {
		return 0, 0, ErrNoChunks
	}
	for i := range chunks {
		chunks[i].RepoID = repoID.String()
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	result, err := c.batcher.EmbedAll(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if result.FailedBatches > 0 {
		c.logger.Warn("embedding degraded to zero vectors for some batches",
			"repo_id", repoID, "failed_batches", result.FailedBatches)
	}

	entries := make([]vecindex.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vecindex.Entry{ChunkID: chunks[i].ID, Vector: result.Vectors[i]}
	}
	if err := c.index.Build(ctx, repoID.String(), entries); err != nil {
		return 0, 0, fmt.Errorf("building vector index: %w", err)
	}

	if err := c.repos.SaveChunks(ctx, repoID, chunks); err != nil {
		return 0, 0, fmt.Errorf("persisting chunks: %w", err)
	}

	if err := c.repos.SetStatus(ctx, repoID, store.StatusReady, ""); err != nil {
		return 0, 0, fmt.Errorf("entering ready state: %w", err)
	}

	c.logger.Info("indexing complete",
		"repo_id", repoID, "files", len(files), "chunks", len(chunks))
	return len(files), len(chunks), nil
}
