package vecindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PG is a nearest-neighbor index backed by PostgreSQL with the pgvector
// extension. Build replaces the repository's rows in one transaction, so a
// concurrent Search sees either the old vector set or the new one, never a
// mixture. Distance ordering uses the L2 operator (<->), matching Flat.
type PG struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPG creates a pgvector-backed index on the given pool.
func NewPG(pool *pgxpool.Pool, logger *slog.Logger) *PG {
	if logger == nil {
		logger = slog.Default()
	}
	return &PG{pool: pool, logger: logger}
}

// Build replaces the repository's vector rows in a single transaction.
func (p *PG) Build(ctx context.Context, repoID string, entries []Entry) error {
	dim, err := validateEntries(entries)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning vector build tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Warn("rolling back vector build", "repo_id", repoID, "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunk_vectors WHERE repo_id = $1`, repoID); err != nil {
		return fmt.Errorf("clearing prior vectors for %s: %w", repoID, err)
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{repoID, i, e.ChunkID, pgvector.NewVector(e.Vector)}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"chunk_vectors"},
		[]string{"repo_id", "position", "chunk_id", "embedding"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("inserting vectors for %s: %w", repoID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing vector build for %s: %w", repoID, err)
	}

	p.logger.Info("built vector index",
		"backend", "pgvector", "repo_id", repoID, "vectors", len(entries), "dimension", dim)
	return nil
}

// Search returns up to k chunk IDs ordered by ascending L2 distance.
// Position breaks distance ties so ordering stays deterministic.
func (p *PG) Search(ctx context.Context, repoID string, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	var count int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunk_vectors WHERE repo_id = $1`, repoID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting vectors for %s: %w", repoID, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: repository %s", ErrNotFound, repoID)
	}

	qv := pgvector.NewVector(query)
	rows, err := p.pool.Query(ctx,
		`SELECT chunk_id
		   FROM chunk_vectors
		  WHERE repo_id = $1
		  ORDER BY embedding <-> $2, position
		  LIMIT $3`,
		repoID, qv, k,
	)
	if err != nil {
		return nil, fmt.Errorf("searching vectors for %s: %w", repoID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}
	return ids, nil
}
