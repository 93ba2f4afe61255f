// Package store persists repositories and chunks in PostgreSQL.
//
// Embedding vectors are not stored here; the vector index owns
// them. Chunks for a repository are replaced wholesale on re-indexing
// (delete-then-insert in one transaction) so a concurrent reader sees either
// the old chunk set or the new one.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/copilot/internal/chunk"
)

// Status is a repository's indexing state.
type Status string

// Repository states. Transitions run queued -> indexing -> {ready, error};
// a re-index re-enters indexing from any state.
const (
	StatusQueued   Status = "queued"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Sentinel errors. Check with errors.Is().
var (
	// ErrRepoNotFound indicates the repository does not exist.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrChunkNotFound indicates the chunk id no longer resolves.
	ErrChunkNotFound = errors.New("chunk not found")
)

// Repo is a tracked repository and its indexing metadata.
type Repo struct {
	ID           uuid.UUID
	URL          string
	Branch       string
	DisplayName  string
	Status       Status
	ErrorMessage string
	CreatedAt    time.Time
	IndexedAt    *time.Time
	FileCount    int
	ChunkCount   int
}

// Store provides repository and chunk persistence on a pgx pool.
// It is safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateRepo inserts a repository in the queued state and returns its id.
func (s *Store) CreateRepo(ctx context.Context, url, branch, displayName string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO repositories (id, url, branch, display_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		id, url, branch, displayName, StatusQueued,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating repository: %w", err)
	}
	s.logger.Info("created repository", "repo_id", id, "url", url, "branch", branch)
	return id, nil
}

// GetRepo loads a repository by id.
func (s *Store) GetRepo(ctx context.Context, id uuid.UUID) (Repo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, url, branch, display_name, status,
		        COALESCE(error_message, ''), created_at, indexed_at,
		        file_count, chunk_count
		   FROM repositories WHERE id = $1`, id)

	var r Repo
	err := row.Scan(&r.ID, &r.URL, &r.Branch, &r.DisplayName, &r.Status,
		&r.ErrorMessage, &r.CreatedAt, &r.IndexedAt, &r.FileCount, &r.ChunkCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Repo{}, fmt.Errorf("%w: %s", ErrRepoNotFound, id)
	}
	if err != nil {
		return Repo{}, fmt.Errorf("loading repository %s: %w", id, err)
	}
	return r, nil
}

// ListRepos returns all repositories, newest first.
func (s *Store) ListRepos(ctx context.Context) ([]Repo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, branch, display_name, status,
		        COALESCE(error_message, ''), created_at, indexed_at,
		        file_count, chunk_count
		   FROM repositories ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.ID, &r.URL, &r.Branch, &r.DisplayName, &r.Status,
			&r.ErrorMessage, &r.CreatedAt, &r.IndexedAt, &r.FileCount, &r.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading repositories: %w", err)
	}
	return repos, nil
}

// SetStatus updates a repository's state. Reaching ready also records the
// completion timestamp; errMsg is stored for the error state and cleared
// otherwise.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, errMsg string) error {
	query := `UPDATE repositories SET status = $2, error_message = NULLIF($3, '') WHERE id = $1`
	if status == StatusReady {
		query = `UPDATE repositories SET status = $2, error_message = NULLIF($3, ''), indexed_at = now() WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("updating repository %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRepoNotFound, id)
	}
	s.logger.Info("updated repository status", "repo_id", id, "status", status)
	return nil
}

// SaveChunks replaces the repository's chunk set in one transaction and
// refreshes the stored chunk and file counts. Vectors on the chunks, if
// any, are not persisted.
func (s *Store) SaveChunks(ctx context.Context, repoID uuid.UUID, chunks []chunk.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk save: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back chunk save", "repo_id", repoID, "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE repo_id = $1`, repoID); err != nil {
		return fmt.Errorf("clearing prior chunks for %s: %w", repoID, err)
	}

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{
			c.ID, repoID, c.FilePath, c.Language,
			c.StartLine, c.EndLine, c.Content, c.ContentHash, c.CreatedAt,
		}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "repo_id", "file_path", "language", "start_line", "end_line", "content", "content_hash", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("inserting chunks for %s: %w", repoID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE repositories
		    SET chunk_count = $2,
		        file_count = (SELECT COUNT(DISTINCT file_path) FROM chunks WHERE repo_id = $1)
		  WHERE id = $1`,
		repoID, len(chunks),
	); err != nil {
		return fmt.Errorf("updating counts for %s: %w", repoID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk save for %s: %w", repoID, err)
	}
	s.logger.Info("saved chunks", "repo_id", repoID, "chunks", len(chunks))
	return nil
}

// GetChunks returns all chunks for a repository ordered by file then line.
func (s *Store) GetChunks(ctx context.Context, repoID uuid.UUID) ([]chunk.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, repo_id, file_path, language, start_line, end_line, content, content_hash, created_at
		   FROM chunks WHERE repo_id = $1 ORDER BY file_path, start_line`, repoID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s: %w", repoID, err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunkByID resolves a single chunk id.
func (s *Store) GetChunkByID(ctx context.Context, chunkID string) (chunk.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, repo_id, file_path, language, start_line, end_line, content, content_hash, created_at
		   FROM chunks WHERE id = $1`, chunkID)

	var c chunk.Chunk
	err := row.Scan(&c.ID, &c.RepoID, &c.FilePath, &c.Language,
		&c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chunk.Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	if err != nil {
		return chunk.Chunk{}, fmt.Errorf("loading chunk %s: %w", chunkID, err)
	}
	return c, nil
}

// CountRepos returns the number of tracked repositories. Used by health checks.
func (s *Store) CountRepos(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM repositories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting repositories: %w", err)
	}
	return n, nil
}

func scanChunks(rows pgx.Rows) ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk
	for rows.Next() {
		var c chunk.Chunk
		if err := rows.Scan(&c.ID, &c.RepoID, &c.FilePath, &c.Language,
			&c.StartLine, &c.EndLine, &c.Content, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	return chunks, nil
}
