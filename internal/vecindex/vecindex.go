// Package vecindex provides per-repository nearest-neighbor search over
// chunk embedding vectors.
//
// Two backends implement the same contract: Flat, a brute-force L2 index
// persisted as per-repository files with build-then-swap visibility, and
// PG, which delegates distance ordering to PostgreSQL with the pgvector
// extension. Both key everything by repository ID so concurrent indexing of
// different repositories never interferes.
package vecindex

import (
	"context"
	"errors"
)

// Sentinel errors for index operations. Check with errors.Is().
var (
	// ErrEmptyIndex indicates Build was called with no entries.
	ErrEmptyIndex = errors.New("vecindex: no entries to index")

	// ErrDimension indicates mixed vector dimensions within one build,
	// or a query vector whose dimension differs from the stored index.
	ErrDimension = errors.New("vecindex: vector dimension mismatch")

	// ErrNotFound indicates no index exists for the repository.
	ErrNotFound = errors.New("vecindex: index not found")

	// ErrCorrupted indicates the stored index and its chunk-id mapping
	// disagree. Searches fail closed rather than returning misaligned
	// results; no auto-repair is attempted.
	ErrCorrupted = errors.New("vecindex: index corrupted")
)

// Entry pairs a chunk ID with its embedding vector.
type Entry struct {
	ChunkID string
	Vector  []float32
}

// Index is the nearest-neighbor index contract.
//
// Build replaces any prior index for the repository atomically from the
// caller's point of view. Search returns up to k chunk IDs ordered by
// ascending L2 distance; if k exceeds the stored count, all are returned.
type Index interface {
	Build(ctx context.Context, repoID string, entries []Entry) error
	Search(ctx context.Context, repoID string, query []float32, k int) ([]string, error)
}

// validateEntries checks Build input and returns the shared dimension.
// The dimension is inferred from the first vector.
func validateEntries(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyIndex
	}
	dim := len(entries[0].Vector)
	if dim == 0 {
		return 0, ErrDimension
	}
	for _, e := range entries {
		if len(e.Vector) != dim {
			return 0, ErrDimension
		}
	}
	return dim, nil
}
