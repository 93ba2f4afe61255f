package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/pipeline"
	"github.com/koopa0/copilot/internal/source"
	"github.com/koopa0/copilot/internal/store"
)

// Request validation bounds.
const (
	MaxURLLength         = 2048
	MaxBranchLength      = 255
	MaxDisplayNameLength = 255
)

// RepoStore is the repository metadata store the handlers consume.
type RepoStore interface {
	CreateRepo(ctx context.Context, url, branch, displayName string) (uuid.UUID, error)
	GetRepo(ctx context.Context, id uuid.UUID) (store.Repo, error)
	ListRepos(ctx context.Context) ([]store.Repo, error)
}

// Indexer launches indexing runs.
type Indexer interface {
	Run(ctx context.Context, repoID uuid.UUID, src source.FileSource) *pipeline.Job
}

// SourceFactory builds the file source for a repository. The default clones
// over git; tests substitute in-memory sources.
type SourceFactory func(repoID uuid.UUID, url, branch, token string) source.FileSource

// RepoHandler handles repository registration and listing.
type RepoHandler struct {
	repos   RepoStore
	indexer Indexer
	sources SourceFactory
	logger  *slog.Logger
}

// NewRepoHandler creates a repo handler.
func NewRepoHandler(repos RepoStore, indexer Indexer, sources SourceFactory, logger *slog.Logger) *RepoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoHandler{repos: repos, indexer: indexer, sources: sources, logger: logger}
}

// RegisterRoutes registers repository routes on the given mux.
func (h *RepoHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/repos", h.create)
	mux.HandleFunc("GET /api/v1/repos", h.list)
	mux.HandleFunc("GET /api/v1/repos/{id}", h.get)
}

// CreateRepoRequest registers a repository for indexing.
type CreateRepoRequest struct {
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	GitHubToken string `json:"github_token"`
	DisplayName string `json:"display_name"`
}

// CreateRepoResponse acknowledges a queued indexing run.
type CreateRepoResponse struct {
	RepoID  string `json:"repo_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RepoListItem is one repository in the list response.
type RepoListItem struct {
	RepoID        string     `json:"repo_id"`
	DisplayName   string     `json:"display_name"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	LastIndexedAt *time.Time `json:"last_indexed_at"`
	FileCount     int        `json:"file_count"`
	ChunkCount    int        `json:"chunk_count"`
}

func (h *RepoHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req.RepoURL = strings.TrimSpace(req.RepoURL)
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "repo_url is required")
		return
	}
	if len(req.RepoURL) > MaxURLLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "repo_url too long")
		return
	}
	if req.Branch == "" {
		req.Branch = "main"
	}
	if len(req.Branch) > MaxBranchLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "branch too long")
		return
	}
	if req.DisplayName == "" {
		parts := strings.Split(strings.TrimSuffix(req.RepoURL, "/"), "/")
		req.DisplayName = parts[len(parts)-1]
	}
	if len(req.DisplayName) > MaxDisplayNameLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "display_name too long")
		return
	}

	repoID, err := h.repos.CreateRepo(r.Context(), req.RepoURL, req.Branch, req.DisplayName)
	if err != nil {
		h.logger.Error("failed to create repository", "url", req.RepoURL, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create repository")
		return
	}

	// The run outlives the request; detach cancellation but keep values.
	src := h.sources(repoID, req.RepoURL, req.Branch, req.GitHubToken)
	h.indexer.Run(context.WithoutCancel(r.Context()), repoID, src)

	writeJSON(w, http.StatusAccepted, CreateRepoResponse{
		RepoID:  repoID.String(),
		Status:  string(store.StatusQueued),
		Message: "Repository queued for indexing",
	})
}

func (h *RepoHandler) list(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.ListRepos(r.Context())
	if err != nil {
		h.logger.Error("failed to list repositories", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list repositories")
		return
	}

	items := make([]RepoListItem, len(repos))
	for i, repo := range repos {
		items[i] = toListItem(repo)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repos": items,
		"total": len(items),
	})
}

func (h *RepoHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid repository id")
		return
	}

	repo, err := h.repos.GetRepo(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "repository not found")
			return
		}
		h.logger.Error("failed to get repository", "repo_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get repository")
		return
	}
	writeJSON(w, http.StatusOK, toListItem(repo))
}

func toListItem(repo store.Repo) RepoListItem {
	return RepoListItem{
		RepoID:        repo.ID.String(),
		DisplayName:   repo.DisplayName,
		Status:        string(repo.Status),
		ErrorMessage:  repo.ErrorMessage,
		LastIndexedAt: repo.IndexedAt,
		FileCount:     repo.FileCount,
		ChunkCount:    repo.ChunkCount,
	}
}
