package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/store"
)

type fakeRepoStore struct {
	repos map[uuid.UUID]store.Repo
}

func (f *fakeRepoStore) GetRepo(_ context.Context, id uuid.UUID) (store.Repo, error) {
	repo, ok := f.repos[id]
	if !ok {
		return store.Repo{}, store.ErrRepoNotFound
	}
	return repo, nil
}

func (f *fakeRepoStore) ListRepos(_ context.Context) ([]store.Repo, error) {
	repos := make([]store.Repo, 0, len(f.repos))
	for _, r := range f.repos {
		repos = append(repos, r)
	}
	return repos, nil
}

type fakeRetriever struct {
	results []retrieve.Result
	err     error
}

func (f *fakeRetriever) RetrieveTopK(context.Context, string, string, int) ([]retrieve.Result, error) {
	return f.results, f.err
}

type fakeGenerator struct {
	answer generate.Answer
}

func (f *fakeGenerator) Generate(context.Context, string, []chunk.Chunk, []generate.Turn) generate.Answer {
	return f.answer
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Repos == nil {
		deps.Repos = &fakeRepoStore{repos: map[uuid.UUID]store.Repo{}}
	}
	if deps.Retriever == nil {
		deps.Retriever = &fakeRetriever{}
	}
	if deps.Generator == nil {
		deps.Generator = &fakeGenerator{}
	}
	s, err := NewServer(Config{Name: "copilot-test", Version: "0.0.1"}, deps)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func textOf(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want *TextContent", res.Content[0])
	}
	return tc.Text
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	deps := Deps{
		Repos:     &fakeRepoStore{},
		Retriever: &fakeRetriever{},
		Generator: &fakeGenerator{},
	}

	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{"missing name", Config{Version: "1"}, deps},
		{"missing version", Config{Name: "x"}, deps},
		{"missing repos", Config{Name: "x", Version: "1"}, Deps{Retriever: deps.Retriever, Generator: deps.Generator}},
		{"missing retriever", Config{Name: "x", Version: "1"}, Deps{Repos: deps.Repos, Generator: deps.Generator}},
		{"missing generator", Config{Name: "x", Version: "1"}, Deps{Repos: deps.Repos, Retriever: deps.Retriever}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewServer(tt.cfg, tt.deps); err == nil {
				t.Error("NewServer() error = nil, want error")
			}
		})
	}
}

func TestListRepositories(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repos := &fakeRepoStore{repos: map[uuid.UUID]store.Repo{
		id: {ID: id, DisplayName: "widgets", Status: store.StatusReady, FileCount: 3, ChunkCount: 9},
	}}
	s := newTestServer(t, Deps{Repos: repos})

	res, _, err := s.ListRepositories(context.Background(), nil, ListRepositoriesInput{})
	if err != nil {
		t.Fatalf("ListRepositories() error = %v", err)
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(textOf(t, res)), &items); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0]["display_name"] != "widgets" || items[0]["status"] != "ready" {
		t.Errorf("item = %v", items[0])
	}
}

func TestSearchCode(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repos := &fakeRepoStore{repos: map[uuid.UUID]store.Repo{
		id: {ID: id, Status: store.StatusReady},
	}}
	retriever := &fakeRetriever{results: []retrieve.Result{
		{Chunk: chunk.Chunk{FilePath: "auth.go", StartLine: 1, EndLine: 20, Language: "go", Content: "func Login()"}, Score: 0.5},
	}}
	s := newTestServer(t, Deps{Repos: repos, Retriever: retriever})

	res, _, err := s.SearchCode(context.Background(), nil, SearchCodeInput{RepoID: id.String(), Query: "login"})
	if err != nil {
		t.Fatalf("SearchCode() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(textOf(t, res)), &items); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(items) != 1 || items[0]["file_path"] != "auth.go" {
		t.Errorf("items = %v", items)
	}
}

func TestSearchCodeErrors(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	indexing := uuid.New()
	repos := &fakeRepoStore{repos: map[uuid.UUID]store.Repo{
		id:       {ID: id, Status: store.StatusReady},
		indexing: {ID: indexing, Status: store.StatusIndexing},
	}}
	s := newTestServer(t, Deps{Repos: repos})

	tests := []struct {
		name    string
		input   SearchCodeInput
		wantMsg string
	}{
		{"invalid id", SearchCodeInput{RepoID: "nope", Query: "q"}, "invalid repo_id"},
		{"unknown repo", SearchCodeInput{RepoID: uuid.NewString(), Query: "q"}, "repository not found"},
		{"repo not ready", SearchCodeInput{RepoID: indexing.String(), Query: "q"}, "not ready"},
		{"empty query", SearchCodeInput{RepoID: id.String()}, "query is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, _, err := s.SearchCode(context.Background(), nil, tt.input)
			if err != nil {
				t.Fatalf("SearchCode() error = %v", err)
			}
			if !res.IsError {
				t.Fatal("IsError = false, want true")
			}
			if got := textOf(t, res); !strings.Contains(got, tt.wantMsg) {
				t.Errorf("message = %q, want contains %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAskCodebase(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repos := &fakeRepoStore{repos: map[uuid.UUID]store.Repo{
		id: {ID: id, Status: store.StatusReady},
	}}
	retriever := &fakeRetriever{results: []retrieve.Result{
		{Chunk: chunk.Chunk{FilePath: "auth.go", StartLine: 1, EndLine: 20, Content: "func Login()"}},
	}}
	gen := &fakeGenerator{answer: generate.Answer{
		Text:       "Login lives in auth.go [Source 1].",
		Citations:  []generate.Citation{{FilePath: "auth.go", StartLine: 1, EndLine: 20}},
		Confidence: generate.ConfidenceMedium,
	}}
	s := newTestServer(t, Deps{Repos: repos, Retriever: retriever, Generator: gen})

	res, _, err := s.AskCodebase(context.Background(), nil, AskCodebaseInput{RepoID: id.String(), Question: "where is login?"})
	if err != nil {
		t.Fatalf("AskCodebase() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}

	var out struct {
		Answer     string              `json:"answer"`
		Citations  []generate.Citation `json:"citations"`
		Confidence string              `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out.Answer != "Login lives in auth.go [Source 1]." {
		t.Errorf("answer = %q", out.Answer)
	}
	if len(out.Citations) != 1 || out.Confidence != "medium" {
		t.Errorf("citations = %v, confidence = %q", out.Citations, out.Confidence)
	}
}

func TestAskCodebaseNoResults(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repos := &fakeRepoStore{repos: map[uuid.UUID]store.Repo{
		id: {ID: id, Status: store.StatusReady},
	}}
	s := newTestServer(t, Deps{Repos: repos})

	res, _, err := s.AskCodebase(context.Background(), nil, AskCodebaseInput{RepoID: id.String(), Question: "anything?"})
	if err != nil {
		t.Fatalf("AskCodebase() error = %v", err)
	}

	var out struct {
		Answer     string `json:"answer"`
		Confidence string `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !strings.Contains(out.Answer, "No relevant code found") {
		t.Errorf("answer = %q", out.Answer)
	}
	if out.Confidence != "low" {
		t.Errorf("confidence = %q, want low", out.Confidence)
	}
}
