// Package eval measures retrieval and answer quality against a question
// dataset: precision of retrieval against expected files, whether citations
// point at retrieved content, and a lexical faithfulness heuristic.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/koopa0/copilot/internal/chunk"
	"github.com/koopa0/copilot/internal/generate"
	"github.com/koopa0/copilot/internal/retrieve"
)

// Question is one dataset entry: a query plus the files a good retrieval
// should surface.
type Question struct {
	Question      string   `json:"question"`
	ExpectedFiles []string `json:"expected_files"`
}

// Dataset is the on-disk evaluation file format.
type Dataset struct {
	Questions []Question `json:"questions"`
}

// Result holds one question's metrics.
type Result struct {
	Question           string              `json:"question"`
	Answer             string              `json:"answer"`
	RetrievalPrecision float64             `json:"retrieval_precision"`
	CitationPrecision  float64             `json:"citation_precision"`
	Faithfulness       float64             `json:"faithfulness"`
	Confidence         generate.Confidence `json:"confidence"`
	LatencyMillis      float64             `json:"latency_ms"`
	ChunksRetrieved    int                 `json:"num_chunks_retrieved"`
	Citations          int                 `json:"num_citations"`
}

// Report aggregates a full run.
type Report struct {
	Timestamp string   `json:"timestamp"`
	RepoID    string   `json:"repo_id"`
	Dataset   string   `json:"dataset"`
	Questions int      `json:"num_questions"`
	Metrics   Metrics  `json:"metrics"`
	Results   []Result `json:"results"`
}

// Metrics are dataset-level averages.
type Metrics struct {
	RetrievalPrecisionAtK float64 `json:"retrieval_precision_at_k"`
	CitationPrecision     float64 `json:"citation_precision"`
	Faithfulness          float64 `json:"faithfulness_score"`
	AvgLatencyMillis      float64 `json:"avg_latency_ms"`
}

// LoadDataset reads a dataset file.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return ds, nil
}

// RetrievalPrecision is the fraction of expected files present among the
// retrieved chunks' file paths. Zero when either side is empty.
func RetrievalPrecision(retrieved []chunk.Chunk, expectedFiles []string) float64 {
	if len(expectedFiles) == 0 || len(retrieved) == 0 {
		return 0
	}
	retrievedFiles := make(map[string]bool, len(retrieved))
	for _, c := range retrieved {
		retrievedFiles[c.FilePath] = true
	}
	relevant := 0
	for _, f := range expectedFiles {
		if retrievedFiles[f] {
			relevant++
		}
	}
	return float64(relevant) / float64(len(expectedFiles))
}

// CitationPrecision is the fraction of citations that resolve to a
// retrieved chunk: same file, start line inside the chunk's range.
func CitationPrecision(citations []generate.Citation, retrieved []chunk.Chunk) float64 {
	if len(citations) == 0 {
		return 0
	}
	valid := 0
	for _, cit := range citations {
		for _, c := range retrieved {
			if c.FilePath == cit.FilePath &&
				c.StartLine <= cit.StartLine && cit.StartLine <= c.EndLine {
				valid++
				break
			}
		}
	}
	return float64(valid) / float64(len(citations))
}

// Faithfulness approximates answer grounding as the fraction of answer
// words that appear somewhere in the retrieved content, capped at 1.
func Faithfulness(answer string, retrieved []chunk.Chunk) float64 {
	if len(retrieved) == 0 {
		return 0
	}

	var sources strings.Builder
	for _, c := range retrieved {
		sources.WriteString(strings.ToLower(c.Content))
		sources.WriteString(" ")
	}
	sourceWords := make(map[string]bool)
	for _, w := range strings.Fields(sources.String()) {
		sourceWords[w] = true
	}

	answerWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(answer)) {
		answerWords[w] = true
	}
	if len(answerWords) == 0 {
		return 0
	}

	overlap := 0
	for w := range answerWords {
		if sourceWords[w] {
			overlap++
		}
	}
	return min(float64(overlap)/float64(len(answerWords)), 1)
}

// Runner evaluates questions against a ready repository.
type Runner struct {
	retriever *retrieve.Retriever
	generator *generate.Generator
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(retriever *retrieve.Retriever, generator *generate.Generator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{retriever: retriever, generator: generator, logger: logger}
}

// Run evaluates every question in the dataset against repoID.
func (r *Runner) Run(ctx context.Context, repoID, datasetPath string) (Report, error) {
	ds, err := LoadDataset(datasetPath)
	if err != nil {
		return Report{}, err
	}
	if len(ds.Questions) == 0 {
		return Report{}, fmt.Errorf("dataset %s has no questions", datasetPath)
	}

	r.logger.Info("running evaluation", "repo_id", repoID, "questions", len(ds.Questions))

	results := make([]Result, 0, len(ds.Questions))
	for i, q := range ds.Questions {
		r.logger.Info("evaluating question", "index", i+1, "total", len(ds.Questions))
		res, err := r.evaluate(ctx, repoID, q)
		if err != nil {
			return Report{}, fmt.Errorf("question %d: %w", i+1, err)
		}
		results = append(results, res)
	}

	var m Metrics
	for _, res := range results {
		m.RetrievalPrecisionAtK += res.RetrievalPrecision
		m.CitationPrecision += res.CitationPrecision
		m.Faithfulness += res.Faithfulness
		m.AvgLatencyMillis += res.LatencyMillis
	}
	n := float64(len(results))
	m.RetrievalPrecisionAtK /= n
	m.CitationPrecision /= n
	m.Faithfulness /= n
	m.AvgLatencyMillis /= n

	return Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RepoID:    repoID,
		Dataset:   datasetPath,
		Questions: len(ds.Questions),
		Metrics:   m,
		Results:   results,
	}, nil
}

func (r *Runner) evaluate(ctx context.Context, repoID string, q Question) (Result, error) {
	start := time.Now()

	retrieved, err := r.retriever.Retrieve(ctx, repoID, q.Question)
	if err != nil {
		return Result{}, fmt.Errorf("retrieving: %w", err)
	}
	chunks := make([]chunk.Chunk, len(retrieved))
	for i, res := range retrieved {
		chunks[i] = res.Chunk
	}

	answer := r.generator.Generate(ctx, q.Question, chunks, nil)
	latency := float64(time.Since(start).Microseconds()) / 1000

	return Result{
		Question:           q.Question,
		Answer:             answer.Text,
		RetrievalPrecision: RetrievalPrecision(chunks, q.ExpectedFiles),
		CitationPrecision:  CitationPrecision(answer.Citations, chunks),
		Faithfulness:       Faithfulness(answer.Text, chunks),
		Confidence:         answer.Confidence,
		LatencyMillis:      latency,
		ChunksRetrieved:    len(chunks),
		Citations:          len(answer.Citations),
	}, nil
}

// WriteReport saves the report as indented JSON.
func WriteReport(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// FormatReport renders the report for the console.
func FormatReport(report Report) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	dash := strings.Repeat("-", 60)

	b.WriteString("\n" + rule + "\n")
	b.WriteString("EVALUATION REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", report.Timestamp)
	fmt.Fprintf(&b, "Repository: %s\n", report.RepoID)
	fmt.Fprintf(&b, "Questions: %d\n", report.Questions)
	b.WriteString("\n" + dash + "\n")
	b.WriteString("METRICS\n")
	b.WriteString(dash + "\n")
	fmt.Fprintf(&b, "%-30s %10s\n", "Metric", "Score")
	b.WriteString(dash + "\n")
	fmt.Fprintf(&b, "%-30s %10.3f\n", "Retrieval Precision@K", report.Metrics.RetrievalPrecisionAtK)
	fmt.Fprintf(&b, "%-30s %10.3f\n", "Citation Precision", report.Metrics.CitationPrecision)
	fmt.Fprintf(&b, "%-30s %10.3f\n", "Faithfulness Score", report.Metrics.Faithfulness)
	fmt.Fprintf(&b, "%-30s %10.1f\n", "Avg Latency (ms)", report.Metrics.AvgLatencyMillis)
	b.WriteString(rule + "\n")
	return b.String()
}
