// Package retrieve answers "which chunks are relevant to this question"
// by combining vector search with a lexical re-ranking pass.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/vecindex"
)

// DefaultTopK is the number of chunks returned when the caller does not
// override it.
const DefaultTopK = 8

var (
	// ErrEmbeddingUnavailable indicates the query could not be embedded.
	// Retrieval cannot degrade past this point; callers surface it.
	ErrEmbeddingUnavailable = errors.New("retrieve: query embedding unavailable")
)

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher runs nearest-neighbor search over a repository's index.
type Searcher interface {
	Search(ctx context.Context, repoID string, query []float32, k int) ([]string, error)
}

// ChunkGetter hydrates chunk IDs back into full chunks.
type ChunkGetter interface {
	GetChunkByID(ctx context.Context, chunkID string) (chunk.Chunk, error)
}

// Result is one retrieved chunk with its lexical relevance score.
type Result struct {
	Chunk chunk.Chunk
	Score float64
}

// Retriever retrieves the chunks most relevant to a question.
type Retriever struct {
	embedder Embedder
	index    Searcher
	chunks   ChunkGetter
	topK     int
	rerank   bool
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the number of chunks returned. Values below 1 are ignored.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k >= 1 {
			r.topK = k
		}
	}
}

// WithoutReranking disables the lexical re-ranking pass; results come back
// in raw vector-distance order with zero scores.
func WithoutReranking() Option {
	return func(r *Retriever) { r.rerank = false }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Retriever over the given embedder, index, and chunk store.
func New(embedder Embedder, index Searcher, chunks ChunkGetter, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		chunks:   chunks,
		topK:     DefaultTopK,
		rerank:   true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to the configured topK chunks relevant to query,
// most relevant first.
func (r *Retriever) Retrieve(ctx context.Context, repoID, query string) ([]Result, error) {
	return r.RetrieveTopK(ctx, repoID, query, r.topK)
}

// RetrieveTopK is Retrieve with a per-call result count; topK below 1
// falls back to the configured default. When re-ranking is enabled the
// vector search over-fetches so the lexical pass has candidates to
// reorder. Chunk IDs the store no longer knows are dropped silently; the
// index may briefly trail a re-index.
func (r *Retriever) RetrieveTopK(ctx context.Context, repoID, query string, topK int) ([]Result, error) {
	if topK < 1 {
		topK = r.topK
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", ErrEmbeddingUnavailable, len(vectors))
	}

	fetchK := topK
	if r.rerank {
		fetchK = 2 * topK
	}

	ids, err := r.index.Search(ctx, repoID, vectors[0], fetchK)
	if err != nil {
		if errors.Is(err, vecindex.ErrNotFound) || errors.Is(err, vecindex.ErrEmptyIndex) {
			return nil, err
		}
		return nil, fmt.Errorf("searching index: %w", err)
	}

	candidates := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		c, err := r.chunks.GetChunkByID(ctx, id)
		if err != nil {
			r.logger.Warn("dropping stale chunk id", "chunk_id", id, "error", err)
			continue
		}
		candidates = append(candidates, c)
	}

	// The lexical pass only reorders a genuine over-fetch. When hydration
	// yields topK or fewer candidates there is nothing to trade off and
	// the vector distance order stands.
	var results []Result
	if r.rerank && len(candidates) > topK {
		results = Rerank(query, candidates)
	} else {
		results = make([]Result, len(candidates))
		for i, c := range candidates {
			results[i] = Result{Chunk: c}
		}
	}

	if len(results) > topK {
		results = results[:topK]
	}
	r.logger.Debug("retrieved chunks",
		"repo_id", repoID, "candidates", len(candidates), "returned", len(results))
	return results, nil
}
