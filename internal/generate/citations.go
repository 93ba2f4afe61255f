package generate

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/koopa0/copilot/internal/chunk"
)

// SnippetChars bounds the citation snippet length.
const SnippetChars = 200

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// Citation points from an answer back to one retrieved chunk.
type Citation struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Snippet   string `json:"snippet"`
}

// ExtractCitations scans answer for [Source N] markers and maps each valid
// reference to its chunk. Duplicate markers collapse, references outside
// [1, len(chunks)] are discarded, and the result is ordered by ascending
// source number regardless of marker order in the text.
func ExtractCitations(answer string, chunks []chunk.Chunk) []Citation {
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue // digits too long for int; not a real reference
		}
		if n >= 1 && n <= len(chunks) {
			seen[n] = true
		}
	}

	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	citations := make([]Citation, 0, len(nums))
	for _, n := range nums {
		c := chunks[n-1]
		snippet := c.Content
		if len(snippet) > SnippetChars {
			snippet = snippet[:SnippetChars] + "..."
		}
		citations = append(citations, Citation{
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Snippet:   snippet,
		})
	}
	return citations
}
