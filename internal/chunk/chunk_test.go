package chunk

import (
	"strings"
	"testing"
)

// buildFile generates n numbered lines of source-like text.
func buildFile(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("func line")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("() {}\n")
	}
	return b.String()
}

func TestSplit_EmptyContent(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	if got := s.Split("", "empty.py", "python"); len(got) != 0 {
		t.Errorf("Split(empty) = %d chunks, want 0", len(got))
	}
}

func TestSplit_SingleWindow(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	content := buildFile(t, 10)
	chunks := s.Split(content, "a.go", "go")

	if len(chunks) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.StartLine != 1 || c.EndLine != 10 {
		t.Errorf("lines = %d-%d, want 1-10", c.StartLine, c.EndLine)
	}
	if c.FilePath != "a.go" || c.Language != "go" {
		t.Errorf("metadata = %q/%q, want a.go/go", c.FilePath, c.Language)
	}
	if c.ID == "" {
		t.Error("ID is empty, want a generated id")
	}
	if c.ContentHash != HashContent(c.Content) {
		t.Error("ContentHash does not match content")
	}
}

func TestSplit_OverlappingWindows(t *testing.T) {
	t.Parallel()

	s := New(Config{WindowLines: 50, OverlapLines: 5})
	content := buildFile(t, 120)
	chunks := s.Split(content, "big.go", "go")

	// Stride 45: windows start at lines 1, 46, 91.
	wantStarts := []int{1, 46, 91}
	wantEnds := []int{50, 95, 120}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("Split() = %d chunks, want %d", len(chunks), len(wantStarts))
	}
	for i, c := range chunks {
		if c.StartLine != wantStarts[i] || c.EndLine != wantEnds[i] {
			t.Errorf("chunk %d lines = %d-%d, want %d-%d",
				i, c.StartLine, c.EndLine, wantStarts[i], wantEnds[i])
		}
	}
	// Final chunk ends at the file's line count.
	if last := chunks[len(chunks)-1]; last.EndLine != 120 {
		t.Errorf("last EndLine = %d, want 120", last.EndLine)
	}
}

func TestSplit_CoverageInvariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines int
	}{
		{name: "one line", lines: 1},
		{name: "exactly one window", lines: 50},
		{name: "window plus one", lines: 51},
		{name: "several windows", lines: 333},
	}

	s := New(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := s.Split(buildFile(t, tt.lines), "f.go", "go")
			if len(chunks) == 0 {
				t.Fatal("Split() = 0 chunks, want > 0")
			}
			prev := 0
			for i, c := range chunks {
				if c.StartLine <= prev {
					t.Errorf("chunk %d StartLine = %d, want > %d (non-decreasing order)", i, c.StartLine, prev)
				}
				if c.EndLine < c.StartLine {
					t.Errorf("chunk %d EndLine %d < StartLine %d", i, c.EndLine, c.StartLine)
				}
				prev = c.StartLine
			}
			if last := chunks[len(chunks)-1]; last.EndLine != tt.lines {
				t.Errorf("last EndLine = %d, want %d", last.EndLine, tt.lines)
			}
		})
	}
}

func TestSplit_SkipsShortWindowsButAdvances(t *testing.T) {
	t.Parallel()

	// Window 2, overlap 1, stride 1. Lines 2-3 form a too-short window that
	// must be skipped without stopping subsequent windows.
	s := New(Config{WindowLines: 2, OverlapLines: 1, MinChunkChars: 10})
	content := "this line is long enough\n.\n.\nanother long enough line\n"
	chunks := s.Split(content, "f.txt", "text")

	for _, c := range chunks {
		if len(strings.TrimSpace(c.Content)) < 10 {
			t.Errorf("chunk %d-%d content %q below minimum length", c.StartLine, c.EndLine, c.Content)
		}
	}
	// The window starting at line 3 (".", "another long enough line") passes
	// the minimum; the window at line 2 does not.
	for _, c := range chunks {
		if c.StartLine == 2 {
			t.Error("window at line 2 should have been skipped")
		}
	}
}

func TestSplit_DeterministicExceptIDs(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	content := buildFile(t, 85)

	a := s.Split(content, "f.go", "go")
	b := s.Split(content, "f.go", "go")

	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Content != b[i].Content {
			t.Errorf("chunk %d content differs between runs", i)
		}
		if a[i].StartLine != b[i].StartLine || a[i].EndLine != b[i].EndLine {
			t.Errorf("chunk %d line range differs between runs", i)
		}
		if a[i].ContentHash != b[i].ContentHash {
			t.Errorf("chunk %d hash differs between runs", i)
		}
		if a[i].ID == b[i].ID {
			t.Errorf("chunk %d ID reused across runs, want fresh ids", i)
		}
	}
}

func TestSplit_ContentVerbatim(t *testing.T) {
	t.Parallel()

	content := "line one is long enough\nline two also long enough\nline three the last one"
	s := New(Config{})
	chunks := s.Split(content, "v.txt", "text")

	if len(chunks) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != content {
		t.Errorf("content = %q, want verbatim input", chunks[0].Content)
	}
}

func TestSplit_CRLFLineEndings(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	chunks := s.Split("first windows line here\r\nsecond windows line here\r\n", "w.txt", "text")

	if len(chunks) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(chunks))
	}
	if chunks[0].EndLine != 2 {
		t.Errorf("EndLine = %d, want 2", chunks[0].EndLine)
	}
	if strings.Contains(chunks[0].Content, "\r") {
		t.Error("content retains carriage returns, want them stripped")
	}
}
