// Package chunk splits file content into overlapping, line-addressed chunks.
//
// A chunk is the atomic unit of retrieval: a contiguous slice of a single
// file's text with 1-indexed inclusive line bounds and a content hash. The
// splitter is deterministic except for chunk ID generation: re-running it on
// identical input yields byte-identical content and line ranges with fresh IDs.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default splitting parameters. Fifty lines is roughly 200-500 tokens for
// most code, which sits comfortably inside common embedding model limits.
const (
	DefaultWindowLines   = 50
	DefaultOverlapLines  = 5
	DefaultMinChunkChars = 10
)

// Chunk is a line-addressed slice of one file's text.
// Chunks are immutable after creation; re-indexing replaces them wholesale.
type Chunk struct {
	ID          string    `json:"chunk_id"`
	RepoID      string    `json:"repo_id"`
	FilePath    string    `json:"file_path"` // relative, forward-slash normalized
	Language    string    `json:"language"`
	StartLine   int       `json:"start_line"` // 1-indexed, inclusive
	EndLine     int       `json:"end_line"`   // 1-indexed, inclusive, >= StartLine
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"` // sha256 over Content
	CreatedAt   time.Time `json:"created_at"`
}

// Config defines splitter parameters. Zero values select the defaults.
type Config struct {
	// WindowLines is the fixed window size W in physical lines.
	WindowLines int

	// OverlapLines is the overlap V between consecutive windows.
	// The stride is always W - V.
	OverlapLines int

	// MinChunkChars discards windows whose trimmed text is shorter than this.
	// The stride still advances past a discarded window; its lines are not
	// retried at finer granularity, so tiny trailing fragments near window
	// boundaries may never be indexed. Recall depends on this staying
	// stable across re-indexes.
	MinChunkChars int
}

// Splitter produces chunks from file content.
type Splitter struct {
	window  int
	overlap int
	minLen  int
}

// New creates a Splitter, applying defaults for zero config fields.
// Overlap is clamped below the window so the stride stays positive.
func New(cfg Config) *Splitter {
	w := cfg.WindowLines
	if w <= 0 {
		w = DefaultWindowLines
	}
	v := cfg.OverlapLines
	if v < 0 {
		v = 0
	}
	if v >= w {
		v = w - 1
	}
	m := cfg.MinChunkChars
	if m <= 0 {
		m = DefaultMinChunkChars
	}
	return &Splitter{window: w, overlap: v, minLen: m}
}

// Split cuts content into overlapping windows of physical lines.
// Empty content yields no chunks. Line ranges reflect the source verbatim;
// no re-wrapping is applied. Start lines are strictly increasing.
func (s *Splitter) Split(content, filePath, language string) []Chunk {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}

	stride := s.window - s.overlap
	now := time.Now().UTC()

	var chunks []Chunk
	for i := 0; i < len(lines); i += stride {
		end := min(i+s.window, len(lines))
		text := strings.Join(lines[i:end], "\n")

		// Too-short windows are skipped but the stride advances regardless.
		if len(strings.TrimSpace(text)) < s.minLen {
			continue
		}

		chunks = append(chunks, Chunk{
			ID:          uuid.NewString(),
			FilePath:    filePath,
			Language:    language,
			StartLine:   i + 1,
			EndLine:     end,
			Content:     text,
			ContentHash: HashContent(text),
			CreatedAt:   now,
		})
	}
	return chunks
}

// HashContent returns the hex sha256 digest of text.
// Used for dedup and change detection, not enforced as unique.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// splitLines splits content into physical lines without terminators.
// A trailing newline does not produce a phantom empty line, so the last
// chunk's EndLine equals the file's line count.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
