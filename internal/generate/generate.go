// Package generate turns retrieved chunks into a grounded, citation-backed
// answer. Generation backends are injected; when none is configured or the
// backend fails, a deterministic local excerpt answer stands in so callers
// always get a usable response.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/koopa0/copilot/internal/chunk"
)

// Prompt sizing and fallback bounds.
const (
	// HistoryTurns is the number of trailing conversation turns carried
	// into the prompt.
	HistoryTurns = 4

	// FallbackMaxChunks bounds how many excerpts the local fallback shows.
	FallbackMaxChunks = 3

	// FallbackExcerptChars bounds each fallback excerpt's length.
	FallbackExcerptChars = 500

	// DefaultCostPerKiloToken is the billing rate applied to backend
	// answers when the caller does not configure one.
	DefaultCostPerKiloToken = 0.01
)

// Completer produces an answer for a fully rendered prompt. Implementations
// wrap a model provider; tokens is the provider-reported total when known,
// zero otherwise.
type Completer interface {
	Complete(ctx context.Context, prompt string) (text string, tokens int, err error)
}

// Turn is one prior conversation exchange.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Answer is the full generation result.
type Answer struct {
	Text          string     `json:"answer"`
	Citations     []Citation `json:"citations"`
	Confidence    Confidence `json:"confidence"`
	TokenEstimate int        `json:"tokens_estimate"`
	CostEstimate  float64    `json:"cost_estimate"`
}

// Generator builds prompts and produces cited answers.
type Generator struct {
	completer   Completer
	costPerKilo float64
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithCostRate overrides the per-thousand-token cost rate.
func WithCostRate(rate float64) Option {
	return func(g *Generator) { g.costPerKilo = rate }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Generator. completer may be nil, in which case every answer
// uses the local fallback.
func New(completer Completer, opts ...Option) *Generator {
	g := &Generator{
		completer:   completer,
		costPerKilo: DefaultCostPerKiloToken,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate answers query from chunks. Backend failures are absorbed: the
// local fallback answer replaces the backend text and the call still
// succeeds. Citation numbering follows the order chunks arrive.
func (g *Generator) Generate(ctx context.Context, query string, chunks []chunk.Chunk, history []Turn) Answer {
	prompt := BuildPrompt(query, chunks, history)

	text := ""
	tokens := EstimateTokens(prompt)
	cost := 0.0
	usedBackend := false

	if g.completer != nil {
		backendText, backendTokens, err := g.completer.Complete(ctx, prompt)
		if err != nil {
			g.logger.Error("generation backend failed, using local fallback", "error", err)
		} else {
			text = backendText
			usedBackend = true
			if backendTokens > 0 {
				tokens = backendTokens
			}
			cost = float64(tokens) / 1000 * g.costPerKilo
		}
	}
	if !usedBackend {
		text = LocalFallback(chunks)
		cost = 0
	}

	citations := ExtractCitations(text, chunks)
	return Answer{
		Text:          text,
		Citations:     citations,
		Confidence:    ScoreConfidence(text, citations),
		TokenEstimate: tokens,
		CostEstimate:  cost,
	}
}

// BuildPrompt renders the grounded prompt: numbered source blocks in chunk
// order, up to the last four conversation turns, then the question and the
// citation instructions.
func BuildPrompt(query string, chunks []chunk.Chunk, history []Turn) string {
	var sources strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sources.WriteString("\n")
		}
		lang := c.Language
		if lang == "" {
			lang = "unknown"
		}
		fmt.Fprintf(&sources, "[Source %d]\n", i+1)
		fmt.Fprintf(&sources, "File: %s\n", c.FilePath)
		fmt.Fprintf(&sources, "Lines: %d-%d\n", c.StartLine, c.EndLine)
		fmt.Fprintf(&sources, "Language: %s\n", lang)
		fmt.Fprintf(&sources, "```%s\n%s\n```\n", c.Language, c.Content)
	}

	var historyText strings.Builder
	if len(history) > 0 {
		historyText.WriteString("\n\nPrevious conversation:\n")
		start := 0
		if len(history) > HistoryTurns {
			start = len(history) - HistoryTurns
		}
		for _, turn := range history[start:] {
			fmt.Fprintf(&historyText, "%s: %s\n", titleCase(turn.Role), turn.Content)
		}
	}

	return fmt.Sprintf(`You are a code assistant helping developers understand a codebase. Answer the question using ONLY the provided source code below.

CRITICAL RULES:
1. Every factual claim MUST be cited using [Source N] format
2. If you cannot answer from the sources, say "I don't have enough information in the codebase to answer this"
3. Do not make assumptions or add information not present in the sources
4. When referencing code, always cite the specific source

%s
%s

Question: %s

Provide a clear, well-structured answer with proper citations. Format your response in markdown.

Answer:`, sources.String(), historyText.String(), query)
}

// LocalFallback renders up to three retrieved excerpts as the answer,
// keeping the [Source N] markers so citation extraction still applies.
func LocalFallback(chunks []chunk.Chunk) string {
	if len(chunks) == 0 {
		return "I couldn't find any relevant code in the repository for your question.\n\n" +
			"*Tip: try asking with a filename, function name, or keyword.*"
	}

	var b strings.Builder
	b.WriteString("**Answer generation is unavailable.** " +
		"Showing the most relevant retrieved excerpts instead:\n\n")

	limit := min(len(chunks), FallbackMaxChunks)
	for i, c := range chunks[:limit] {
		excerpt := c.Content
		if len(excerpt) > FallbackExcerptChars {
			excerpt = excerpt[:FallbackExcerptChars]
		}
		fmt.Fprintf(&b, "### `%s` (lines %d-%d) [Source %d]\n```%s\n%s\n```\n\n",
			c.FilePath, c.StartLine, c.EndLine, i+1, c.Language, excerpt)
	}

	b.WriteString("*Note: configure a generation backend to get full explanations.*")
	return b.String()
}

// EstimateTokens approximates token usage as one token per four characters.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
