// Package embedding converts text to fixed-dimension vectors for similarity
// search.
//
// The Backend interface has two variants chosen once at configuration time:
// Remote wraps a Genkit ai.Embedder (Google AI or an OpenAI-compatible
// endpoint), Local is a deterministic offline hash projection. Batcher
// drives bulk embedding with a degrade-not-abort policy: a failed batch is
// replaced by zero vectors instead of discarding chunks or aborting the run.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/firebase/genkit/go/ai"
)

// DefaultBatchSize bounds the number of texts sent to a backend per request.
const DefaultBatchSize = 32

// ErrNoEmbeddings indicates the backend returned an empty result.
var ErrNoEmbeddings = errors.New("embedding: backend returned no embeddings")

// Backend converts a batch of texts into one vector per text.
// Implementations must return vectors of a uniform dimension.
//
// This interface is defined by the consumer; the indexing pipeline and the
// retriever both depend on it rather than on a concrete client.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Remote wraps a Genkit ai.Embedder as a Backend.
type Remote struct {
	embedder ai.Embedder
	name     string
}

// NewRemote creates a Remote backend. name is used for logging only.
func NewRemote(embedder ai.Embedder, name string) *Remote {
	return &Remote{embedder: embedder, name: name}
}

// Embed sends all texts in one request and returns their vectors in order.
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrNoEmbeddings, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty vector at position %d", ErrNoEmbeddings, i)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// Name returns the configured backend name.
func (r *Remote) Name() string { return r.name }

// Local is a deterministic, network-free embedding backend. Each token is
// hashed into a bucket of the output vector, then the vector is L2-normalized.
// It is no substitute for a learned model but gives stable, non-degenerate
// similarity behavior for offline use and tests.
type Local struct {
	dim int
}

// DefaultLocalDimension matches the flat index's expectations for small
// offline deployments.
const DefaultLocalDimension = 256

// NewLocal creates a Local backend with the given dimension (0 = default).
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = DefaultLocalDimension
	}
	return &Local{dim: dim}
}

// Embed hashes each text's tokens into a normalized vector.
func (l *Local) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = l.embedOne(t)
	}
	return vectors, nil
}

// Name identifies the local backend in logs.
func (l *Local) Name() string { return "local" }

func (l *Local) embedOne(text string) []float32 {
	v := make([]float32, l.dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(l.dim)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	var tokens []string
	var cur []rune
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			cur = append(cur, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			cur = append(cur, r)
		default:
			if len(cur) > 0 {
				tokens = append(tokens, string(cur))
				cur = cur[:0]
			}
		}
	}
	if len(cur) > 0 {
		tokens = append(tokens, string(cur))
	}
	return tokens
}

// Batcher embeds large text sets in bounded batches.
type Batcher struct {
	backend    Backend
	batchSize  int
	defaultDim int
	logger     *slog.Logger
}

// BatchResult reports the outcome of a bulk embedding run.
type BatchResult struct {
	Vectors       [][]float32
	FailedBatches int
}

// NewBatcher creates a Batcher. batchSize <= 0 selects DefaultBatchSize.
// defaultDim is the zero-vector dimension used when a batch fails before
// any dimension has been observed.
func NewBatcher(backend Backend, batchSize, defaultDim int, logger *slog.Logger) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{backend: backend, batchSize: batchSize, defaultDim: defaultDim, logger: logger}
}

// EmbedAll embeds texts in batches. A failed batch contributes zero vectors
// of the previously observed dimension (or the configured default) and is
// counted in FailedBatches; the run itself never aborts on a backend error.
// A context cancellation does abort; the caller is shutting down.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) (BatchResult, error) {
	result := BatchResult{Vectors: make([][]float32, 0, len(texts))}
	dim := 0

	for start := 0; start < len(texts); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}

		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := b.backend.Embed(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return BatchResult{}, ctx.Err()
			}
			result.FailedBatches++
			fallbackDim := dim
			if fallbackDim == 0 {
				fallbackDim = b.defaultDim
			}
			b.logger.Warn("embedding batch failed, substituting zero vectors",
				"backend", b.backend.Name(),
				"batch_start", start,
				"batch_size", len(batch),
				"dimension", fallbackDim,
				"error", err,
			)
			for range batch {
				result.Vectors = append(result.Vectors, make([]float32, fallbackDim))
			}
			continue
		}

		for _, v := range vectors {
			if dim == 0 {
				dim = len(v)
			}
			result.Vectors = append(result.Vectors, v)
		}
	}

	if result.FailedBatches > 0 {
		b.logger.Warn("embedding run completed with failures",
			"backend", b.backend.Name(),
			"failed_batches", result.FailedBatches,
			"total", len(texts),
		)
	}
	return result, nil
}
