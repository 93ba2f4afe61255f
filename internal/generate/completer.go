package generate

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitCompleter answers prompts through a Genkit model.
type GenkitCompleter struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitCompleter creates a Completer backed by the named model.
func NewGenkitCompleter(g *genkit.Genkit, modelName string) *GenkitCompleter {
	return &GenkitCompleter{g: g, modelName: modelName}
}

// Complete sends the prompt to the model and returns its text along with the
// provider-reported total token count when available.
func (c *GenkitCompleter) Complete(ctx context.Context, prompt string) (string, int, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithSystem("You are a helpful code assistant."),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", 0, fmt.Errorf("generating answer: %w", err)
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	return resp.Text(), tokens, nil
}
