package generate

import "strings"

// Confidence is a coarse answer-quality signal.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// uncertaintyPhrases downgrade an answer to low confidence when present.
var uncertaintyPhrases = []string{
	"i don't have",
	"not sure",
	"unclear",
	"might",
	"possibly",
	"i cannot find",
	"no information",
	"error generating answer",
}

// ScoreConfidence derives a confidence level from the answer text and its
// extracted citations. Rules are evaluated in order; the first match wins:
//
//	no citations                          -> low
//	answer shorter than 50 characters     -> low
//	contains an uncertainty phrase        -> low
//	over 100 words with fewer than 2 cits -> medium
//	2+ citations                          -> high
//	exactly 1 citation                    -> medium
//	otherwise                             -> low
func ScoreConfidence(answer string, citations []Citation) Confidence {
	if len(citations) == 0 {
		return ConfidenceLow
	}
	if len(answer) < 50 {
		return ConfidenceLow
	}

	lower := strings.ToLower(answer)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			return ConfidenceLow
		}
	}

	words := len(strings.Fields(answer))
	if words > 100 && len(citations) < 2 {
		return ConfidenceMedium
	}

	switch {
	case len(citations) >= 2:
		return ConfidenceHigh
	case len(citations) == 1:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
