package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/pipeline"
	"github.com/koopa0/copilot/internal/retrieve"
	"github.com/koopa0/copilot/internal/source"
	"github.com/koopa0/copilot/internal/store"
	"github.com/koopa0/copilot/internal/testutil"
	"github.com/koopa0/copilot/internal/vecindex"
)

type fakeRepoStore struct {
	repos   map[uuid.UUID]store.Repo
	created []string
	nextID  uuid.UUID
}

func newFakeRepoStore() *fakeRepoStore {
	return &fakeRepoStore{repos: make(map[uuid.UUID]store.Repo), nextID: uuid.New()}
}

func (f *fakeRepoStore) CreateRepo(_ context.Context, url, branch, displayName string) (uuid.UUID, error) {
	f.created = append(f.created, displayName)
	f.repos[f.nextID] = store.Repo{ID: f.nextID, URL: url, Branch: branch, DisplayName: displayName, Status: store.StatusQueued}
	return f.nextID, nil
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

type fakeIndexer struct {
	runs int
}

func (f *fakeIndexer) Run(_ context.Context, repoID uuid.UUID, _ source.FileSource) *pipeline.Job {
	f.runs++
	job := &pipeline.Job{RepoID: repoID}
	return job
}

type fakeRetriever struct {
	results []retrieve.Result
	err     error
	gotTopK int
}

func (f *fakeRetriever) RetrieveTopK(_ context.Context, _, _ string, topK int) ([]retrieve.Result, error) {
	f.gotTopK = topK
	return f.results, f.err
}

type fakeGenerator struct {
	answer generate.Answer
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ []chunk.Chunk, _ []generate.Turn) generate.Answer {
	return f.answer
}

func nullSource(uuid.UUID, string, string, string) source.FileSource {
	return nil
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateRepo(t *testing.T) {
	t.Parallel()

	repos := newFakeRepoStore()
	indexer := &fakeIndexer{}
	h := NewRepoHandler(repos, indexer, nullSource, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := postJSON(t, mux, "/api/v1/repos", CreateRepoRequest{
		RepoURL: "https://github.com/acme/widgets",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusAccepted, rec.Body)
	}

	var resp CreateRepoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "queued" {
		t.Errorf("status = %q, want queued", resp.Status)
	}
	if resp.RepoID != repos.nextID.String() {
		t.Errorf("repo_id = %q, want %q", resp.RepoID, repos.nextID)
	}
	if indexer.runs != 1 {
		t.Errorf("indexer runs = %d, want 1", indexer.runs)
	}
	// Display name defaults to the last URL path segment.
	if len(repos.created) != 1 || repos.created[0] != "widgets" {
		t.Errorf("created display names = %v, want [widgets]", repos.created)
	}
}

func TestCreateRepoValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  CreateRepoRequest
	}{
		{"empty url", CreateRepoRequest{}},
		{"url too long", CreateRepoRequest{RepoURL: "https://x/" + strings.Repeat("a", MaxURLLength)}},
		{"branch too long", CreateRepoRequest{RepoURL: "https://github.com/a/b", Branch: strings.Repeat("b", MaxBranchLength+1)}},
		{"display name too long", CreateRepoRequest{RepoURL: "https://github.com/a/b", DisplayName: strings.Repeat("n", MaxDisplayNameLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			indexer := &fakeIndexer{}
			h := NewRepoHandler(newFakeRepoStore(), indexer, nullSource, testutil.DiscardLogger())
			mux := http.NewServeMux()
			h.RegisterRoutes(mux)

			rec := postJSON(t, mux, "/api/v1/repos", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if indexer.runs != 0 {
				t.Errorf("indexer runs = %d, want 0", indexer.runs)
			}
		})
	}
}

func TestListRepos(t *testing.T) {
	t.Parallel()

	repos := newFakeRepoStore()
	now := time.Now()
	id := uuid.New()
	repos.repos[id] = store.Repo{
		ID: id, DisplayName: "widgets", Status: store.StatusReady,
		IndexedAt: &now, FileCount: 3, ChunkCount: 12,
	}
	h := NewRepoHandler(repos, &fakeIndexer{}, nullSource, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repos", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Repos []RepoListItem `json:"repos"`
		Total int            `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	found := false
	for _, item := range resp.Repos {
		if item.RepoID == id.String() {
			found = true
			if item.Status != "ready" || item.FileCount != 3 || item.ChunkCount != 12 {
				t.Errorf("item = %+v", item)
			}
		}
	}
	if !found {
		t.Errorf("repo %s missing from list", id)
	}
}

func TestGetRepo(t *testing.T) {
	t.Parallel()

	repos := newFakeRepoStore()
	h := NewRepoHandler(repos, &fakeIndexer{}, nullSource, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/"+uuid.NewString(), nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/not-a-uuid", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos/"+repos.nextID.String(), nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200, body %s", rec.Code, rec.Body)
		}
	})
}

func chatMux(t *testing.T, repos RepoGetter, retriever Retriever, gen AnswerGenerator) *http.ServeMux {
	t.Helper()
	h := NewChatHandler(repos, retriever, gen, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func readyRepo() (*fakeRepoStore, uuid.UUID) {
	repos := newFakeRepoStore()
	id := uuid.New()
	repos.repos[id] = store.Repo{ID: id, DisplayName: "widgets", Status: store.StatusReady}
	return repos, id
}

func TestChat(t *testing.T) {
	t.Parallel()

	repos, id := readyRepo()
	retriever := &fakeRetriever{results: []retrieve.Result{
		{Chunk: chunk.Chunk{ID: "c1", FilePath: "auth.go", StartLine: 1, EndLine: 10, Content: "func Login() {}"}},
	}}
	gen := &fakeGenerator{answer: generate.Answer{
		Text:       "Login lives in auth.go [Source 1].",
		Citations:  []generate.Citation{{FilePath: "auth.go", StartLine: 1, EndLine: 10, Snippet: "func Login() {}"}},
		Confidence: generate.ConfidenceMedium,
	}}
	mux := chatMux(t, repos, retriever, gen)

	rec := postJSON(t, mux, "/api/v1/chat", ChatRequest{
		RepoID:   id.String(),
		Messages: []generate.Turn{{Role: "user", Content: "where is login?"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AnswerMarkdown != "Login lives in auth.go [Source 1]." {
		t.Errorf("answer = %q", resp.AnswerMarkdown)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].FilePath != "auth.go" {
		t.Errorf("citations = %+v", resp.Citations)
	}
	if resp.Confidence != "medium" {
		t.Errorf("confidence = %q, want medium", resp.Confidence)
	}
	if retriever.gotTopK != DefaultChatTopK {
		t.Errorf("topK = %d, want %d", retriever.gotTopK, DefaultChatTopK)
	}
}

func TestChatCustomTopK(t *testing.T) {
	t.Parallel()

	repos, id := readyRepo()
	retriever := &fakeRetriever{results: []retrieve.Result{{Chunk: chunk.Chunk{ID: "c1"}}}}
	mux := chatMux(t, repos, retriever, &fakeGenerator{})

	rec := postJSON(t, mux, "/api/v1/chat", ChatRequest{
		RepoID:   id.String(),
		Messages: []generate.Turn{{Role: "user", Content: "q"}},
		TopK:     3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if retriever.gotTopK != 3 {
		t.Errorf("topK = %d, want 3", retriever.gotTopK)
	}
}

func TestChatValidation(t *testing.T) {
	t.Parallel()

	repos, id := readyRepo()
	notReady := uuid.New()
	repos.repos[notReady] = store.Repo{ID: notReady, Status: store.StatusIndexing}

	tests := []struct {
		name       string
		req        ChatRequest
		wantStatus int
	}{
		{"invalid repo id", ChatRequest{RepoID: "nope", Messages: []generate.Turn{{Role: "user", Content: "q"}}}, http.StatusBadRequest},
		{"unknown repo", ChatRequest{RepoID: uuid.NewString(), Messages: []generate.Turn{{Role: "user", Content: "q"}}}, http.StatusNotFound},
		{"repo not ready", ChatRequest{RepoID: notReady.String(), Messages: []generate.Turn{{Role: "user", Content: "q"}}}, http.StatusBadRequest},
		{"no messages", ChatRequest{RepoID: id.String()}, http.StatusBadRequest},
		{"last message not user", ChatRequest{RepoID: id.String(), Messages: []generate.Turn{{Role: "assistant", Content: "hi"}}}, http.StatusBadRequest},
		{"empty query", ChatRequest{RepoID: id.String(), Messages: []generate.Turn{{Role: "user"}}}, http.StatusBadRequest},
		{"top_k too large", ChatRequest{RepoID: id.String(), Messages: []generate.Turn{{Role: "user", Content: "q"}}, TopK: MaxChatTopK + 1}, http.StatusBadRequest},
		{"top_k negative", ChatRequest{RepoID: id.String(), Messages: []generate.Turn{{Role: "user", Content: "q"}}, TopK: -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := chatMux(t, repos, &fakeRetriever{}, &fakeGenerator{})
			rec := postJSON(t, mux, "/api/v1/chat", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestChatNoResults(t *testing.T) {
	t.Parallel()

	repos, id := readyRepo()
	mux := chatMux(t, repos, &fakeRetriever{}, &fakeGenerator{})

	rec := postJSON(t, mux, "/api/v1/chat", ChatRequest{
		RepoID:   id.String(),
		Messages: []generate.Turn{{Role: "user", Content: "anything here?"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.AnswerMarkdown, "couldn't find any relevant code") {
		t.Errorf("answer = %q", resp.AnswerMarkdown)
	}
	if resp.Confidence != "low" {
		t.Errorf("confidence = %q, want low", resp.Confidence)
	}
	if len(resp.Citations) != 0 {
		t.Errorf("citations = %+v, want empty", resp.Citations)
	}
	if resp.Telemetry.TokensEstimate != 0 || resp.Telemetry.CostUSDEstimate != 0 {
		t.Errorf("telemetry = %+v, want zero cost", resp.Telemetry)
	}
}

func TestChatEmptyIndexReturnsCanned(t *testing.T) {
	t.Parallel()

	repos, id := readyRepo()
	mux := chatMux(t, repos, &fakeRetriever{err: vecindex.ErrNotFound}, &fakeGenerator{})

	rec := postJSON(t, mux, "/api/v1/chat", ChatRequest{
		RepoID:   id.String(),
		Messages: []generate.Turn{{Role: "user", Content: "q"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}
}
