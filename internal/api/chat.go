package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// Chat request bounds.
const (
	DefaultChatTopK = 8
	MaxChatTopK     = 20
	MaxMessages     = 50
	MaxQueryLength  = 8192
)

const noResultsAnswer = "I couldn't find any relevant code in the repository for your question. " +
	"Try rephrasing or asking about a different part of the codebase."

// Retriever runs vector search for a repository.
type Retriever interface {
	RetrieveTopK(ctx context.Context, repoID, query string, topK int) ([]retrieve.Result, error)
}

// AnswerGenerator produces a cited answer from retrieved chunks.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, chunks []chunk.Chunk, history []generate.Turn) generate.Answer
}

// RepoGetter loads repository metadata.
type RepoGetter interface {
	GetRepo(ctx context.Context, id uuid.UUID) (store.Repo, error)
}

// ChatHandler answers questions about indexed repositories.
type ChatHandler struct {
	repos     RepoGetter
	retriever Retriever
	generator AnswerGenerator
	logger    *slog.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(repos RepoGetter, retriever Retriever, generator AnswerGenerator, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{repos: repos, retriever: retriever, generator: generator, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", h.chat)
}

// ChatRequest asks a question about an indexed repository.
type ChatRequest struct {
	RepoID   string          `json:"repo_id"`
	Messages []generate.Turn `json:"messages"`
	TopK     int             `json:"top_k"`
}

// ChatTelemetry reports per-request cost and latency.
type ChatTelemetry struct {
	LatencyMS       int64   `json:"latency_ms"`
	TokensEstimate  int     `json:"tokens_estimate"`
	CostUSDEstimate float64 `json:"cost_usd_estimate"`
}

// ChatResponse is an answered question.
type ChatResponse struct {
	AnswerMarkdown string              `json:"answer_markdown"`
	Citations      []generate.Citation `json:"citations"`
	Confidence     string              `json:"confidence"`
	Telemetry      ChatTelemetry       `json:"telemetry"`
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	repoID, err := uuid.Parse(req.RepoID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid repo_id")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return
	}
	if len(req.Messages) > MaxMessages {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many messages")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		writeError(w, http.StatusBadRequest, "invalid_request", "last message must be from the user")
		return
	}
	if last.Content == "" || len(last.Content) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query must be between 1 and 8192 characters")
		return
	}
	topK := req.TopK
	if topK == 0 {
		topK = DefaultChatTopK
	}
	if topK < 1 || topK > MaxChatTopK {
		writeError(w, http.StatusBadRequest, "invalid_request", "top_k must be between 1 and 20")
		return
	}

	repo, err := h.repos.GetRepo(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, store.ErrRepoNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "repository not found")
			return
		}
		h.logger.Error("failed to get repository", "repo_id", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get repository")
		return
	}
	if repo.Status != store.StatusReady {
		writeError(w, http.StatusBadRequest, "repo_not_ready",
			"Repository not ready. Status: "+string(repo.Status))
		return
	}

	query := last.Content
	history := req.Messages[:len(req.Messages)-1]

	results, err := h.retriever.RetrieveTopK(r.Context(), repoID.String(), query, topK)
	if err != nil && !errors.Is(err, vecindex.ErrNotFound) && !errors.Is(err, vecindex.ErrEmptyIndex) {
		h.logger.Error("retrieval failed", "repo_id", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "retrieval failed")
		return
	}

	if len(results) == 0 {
		writeJSON(w, http.StatusOK, ChatResponse{
			AnswerMarkdown: noResultsAnswer,
			Citations:      []generate.Citation{},
			Confidence:     string(generate.ConfidenceLow),
			Telemetry:      ChatTelemetry{LatencyMS: time.Since(start).Milliseconds()},
		})
		return
	}

	chunks := make([]chunk.Chunk, len(results))
	for i, res := range results {
		chunks[i] = res.Chunk
	}

	answer := h.generator.Generate(r.Context(), query, chunks, history)

	citations := answer.Citations
	if citations == nil {
		citations = []generate.Citation{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		AnswerMarkdown: answer.Text,
		Citations:      citations,
		Confidence:     string(answer.Confidence),
		Telemetry: ChatTelemetry{
			LatencyMS:       time.Since(start).Milliseconds(),
			TokensEstimate:  answer.TokenEstimate,
			CostUSDEstimate: answer.CostEstimate,
		},
	})
}
