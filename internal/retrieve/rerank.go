package retrieve

import (
	"regexp"
	"sort"
	"strings"

	"github.com/koopa0/copilot/internal/chunk"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Rerank scores candidates by keyword overlap with the query and returns
// them highest-scoring first. The input slice is not modified; ties keep
// the candidates' original (vector-distance) order.
//
// A chunk's score is |query terms ∩ chunk terms| / |query terms|, over
// lowercased word tokens. An empty query scores everything zero.
func Rerank(query string, candidates []chunk.Chunk) []Result {
	queryTerms := tokenSet(query)

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Chunk: c, Score: overlapScore(queryTerms, c.Content)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func overlapScore(queryTerms map[string]struct{}, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := tokenSet(content)
	matched := 0
	for term := range queryTerms {
		if _, ok := contentTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func tokenSet(text string) map[string]struct{} {
	tokens := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
