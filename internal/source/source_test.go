package source

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"app/models.py", "python"},
		{"web/index.TSX", "typescript"},
		{"README.md", "markdown"},
		{"config.toml", "text"},
		{"Makefile", "text"},
		{"include/util.h", "c"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := DetectLanguage(tt.path); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestShouldIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		size int64
		want bool
	}{
		{"go file", "pkg/server.go", 1024, true},
		{"markdown", "docs/guide.md", 1024, true},
		{"binary extension", "assets/logo.png", 1024, false},
		{"no extension", "LICENSE", 1024, false},
		{"inside node_modules", "node_modules/lodash/index.js", 1024, false},
		{"nested excluded dir", "services/api/__pycache__/app.py", 1024, false},
		{"dir name only prefixes excluded", "distribution/setup.py", 1024, true},
		{"over size ceiling", "big.json", MaxFileSize + 1, false},
		{"at size ceiling", "ok.json", MaxFileSize, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldIndex(tt.path, tt.size); got != tt.want {
				t.Errorf("ShouldIndex(%q, %d) = %v, want %v", tt.path, tt.size, got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestDirFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "docs/readme.md", "# Title\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeFile(t, root, "empty.py", "   \n\t\n")
	writeFile(t, root, "image.png", "\x89PNG")

	files, err := NewDir(root, nil).Files(context.Background())
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	slices.Sort(paths)

	want := []string{"docs/readme.md", "main.go"}
	if !slices.Equal(paths, want) {
		t.Errorf("selected paths = %v, want %v", paths, want)
	}

	for _, f := range files {
		if f.Path == "main.go" {
			if f.Language != "go" {
				t.Errorf("main.go language = %q, want go", f.Language)
			}
			if !strings.Contains(f.Content, "func main()") {
				t.Errorf("main.go content not preserved: %q", f.Content)
			}
		}
	}
}

func TestDirFilesInvalidUTF8(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "latin1.py", "x = 'caf\xe9'\n")

	files, err := NewDir(root, nil).Files(context.Background())
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if !strings.Contains(files[0].Content, "caf�") {
		t.Errorf("invalid byte not replaced: %q", files[0].Content)
	}
}

func TestDirFilesCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewDir(root, nil).Files(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
