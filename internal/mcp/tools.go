package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/vecindex"
)

// Tool names.
const (
	ToolListRepositories = "list_repositories"
	ToolSearchCode       = "search_code"
	ToolAskCodebase      = "ask_codebase"
)

const defaultToolTopK = 8

// Retriever runs vector search for a repository.
type Retriever interface {
	RetrieveTopK(ctx context.Context, repoID, query string, topK int) ([]retrieve.Result, error)
}

// AnswerGenerator produces a cited answer from retrieved chunks.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, chunks []chunk.Chunk, history []generate.Turn) generate.Answer
}

// RepoStore loads repository metadata.
type RepoStore interface {
	GetRepo(ctx context.Context, id uuid.UUID) (store.Repo, error)
	ListRepos(ctx context.Context) ([]store.Repo, error)
}

// Deps are the collaborators the tools call into.
type Deps struct {
	Repos     RepoStore
	Retriever Retriever
	Generator AnswerGenerator
}

func (d Deps) validate() error {
	if d.Repos == nil {
		return fmt.Errorf("repo store is required")
	}
	if d.Retriever == nil {
		return fmt.Errorf("retriever is required")
	}
	if d.Generator == nil {
		return fmt.Errorf("generator is required")
	}
	return nil
}

// SearchCodeInput is the input schema for the search_code tool.
type SearchCodeInput struct {
	RepoID string `json:"repo_id" jsonschema:"The repository id to search"`
	Query  string `json:"query" jsonschema:"Natural language or code search query"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"Number of results to return (default 8)"`
}

// AskCodebaseInput is the input schema for the ask_codebase tool.
type AskCodebaseInput struct {
	RepoID   string `json:"repo_id" jsonschema:"The repository id to ask about"`
	Question string `json:"question" jsonschema:"The question about the codebase"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Number of source chunks to retrieve (default 8)"`
}

// ListRepositoriesInput is the (empty) input schema for list_repositories.
type ListRepositoriesInput struct{}

func (s *Server) registerTools() error {
	listSchema, err := jsonschema.For[ListRepositoriesInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolListRepositories, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolListRepositories,
		Description: "List all indexed repositories with their status, " +
			"file count and chunk count.",
		InputSchema: listSchema,
	}, s.ListRepositories)

	searchSchema, err := jsonschema.For[SearchCodeInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolSearchCode, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolSearchCode,
		Description: "Search a repository's code by semantic similarity. " +
			"Returns matching chunks with file paths and line ranges.",
		InputSchema: searchSchema,
	}, s.SearchCode)

	askSchema, err := jsonschema.For[AskCodebaseInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAskCodebase, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAskCodebase,
		Description: "Ask a question about an indexed repository. " +
			"Returns a cited markdown answer grounded in the code.",
		InputSchema: askSchema,
	}, s.AskCodebase)

	return nil
}

// ListRepositories handles the list_repositories MCP tool call.
func (s *Server) ListRepositories(ctx context.Context, _ *mcp.CallToolRequest, _ ListRepositoriesInput) (*mcp.CallToolResult, any, error) {
	repos, err := s.deps.Repos.ListRepos(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing repositories: %w", err)
	}

	items := make([]map[string]any, len(repos))
	for i, r := range repos {
		items[i] = map[string]any{
			"repo_id":      r.ID.String(),
			"display_name": r.DisplayName,
			"status":       string(r.Status),
			"file_count":   r.FileCount,
			"chunk_count":  r.ChunkCount,
		}
	}
	return dataToMCP(items), nil, nil
}

// SearchCode handles the search_code MCP tool call.
func (s *Server) SearchCode(ctx context.Context, _ *mcp.CallToolRequest, in SearchCodeInput) (*mcp.CallToolResult, any, error) {
	repo, res := s.readyRepo(ctx, in.RepoID)
	if res != nil {
		return res, nil, nil
	}
	if in.Query == "" {
		return errorResult("query is required"), nil, nil
	}
	topK := in.TopK
	if topK < 1 {
		topK = defaultToolTopK
	}

	results, err := s.deps.Retriever.RetrieveTopK(ctx, repo.ID.String(), in.Query, topK)
	if errors.Is(err, vecindex.ErrNotFound) || errors.Is(err, vecindex.ErrEmptyIndex) {
		return dataToMCP([]any{}), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("searching code: %w", err)
	}

	items := make([]map[string]any, len(results))
	for i, r := range results {
		items[i] = map[string]any{
			"file_path":  r.Chunk.FilePath,
			"start_line": r.Chunk.StartLine,
			"end_line":   r.Chunk.EndLine,
			"language":   r.Chunk.Language,
			"content":    r.Chunk.Content,
			"score":      r.Score,
		}
	}
	return dataToMCP(items), nil, nil
}

// AskCodebase handles the ask_codebase MCP tool call.
func (s *Server) AskCodebase(ctx context.Context, _ *mcp.CallToolRequest, in AskCodebaseInput) (*mcp.CallToolResult, any, error) {
	repo, res := s.readyRepo(ctx, in.RepoID)
	if res != nil {
		return res, nil, nil
	}
	if in.Question == "" {
		return errorResult("question is required"), nil, nil
	}
	topK := in.TopK
	if topK < 1 {
		topK = defaultToolTopK
	}

	results, err := s.deps.Retriever.RetrieveTopK(ctx, repo.ID.String(), in.Question, topK)
	if err != nil && !errors.Is(err, vecindex.ErrNotFound) && !errors.Is(err, vecindex.ErrEmptyIndex) {
		return nil, nil, fmt.Errorf("retrieving sources: %w", err)
	}
	if len(results) == 0 {
		return dataToMCP(map[string]any{
			"answer":     "No relevant code found for this question.",
			"citations":  []any{},
			"confidence": string(generate.ConfidenceLow),
		}), nil, nil
	}

	chunks := make([]chunk.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	answer := s.deps.Generator.Generate(ctx, in.Question, chunks, nil)

	return dataToMCP(map[string]any{
		"answer":     answer.Text,
		"citations":  answer.Citations,
		"confidence": string(answer.Confidence),
	}), nil, nil
}

// readyRepo resolves the id and checks the repository is queryable. A non-nil
// result is an agent-facing error to return as-is.
func (s *Server) readyRepo(ctx context.Context, rawID string) (store.Repo, *mcp.CallToolResult) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return store.Repo{}, errorResult("invalid repo_id")
	}
	repo, err := s.deps.Repos.GetRepo(ctx, id)
	if errors.Is(err, store.ErrRepoNotFound) {
		return store.Repo{}, errorResult("repository not found")
	}
	if err != nil {
		return store.Repo{}, errorResult("failed to load repository")
	}
	if repo.Status != store.StatusReady {
		return store.Repo{}, errorResult("repository not ready, status: " + string(repo.Status))
	}
	return repo, nil
}

// errorResult builds an agent-facing tool error. Internal details stay in
// server logs, never in the message.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

// dataToMCP converts data to MCP text content via JSON marshaling. All data
// becomes JSON, clients parse it.
func dataToMCP(data any) *mcp.CallToolResult {
	b, err := json.Marshal(data)
	if err != nil {
		return errorResult("marshal error")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}
