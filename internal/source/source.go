// Package source acquires the files a repository indexing run operates on.
//
// Dir walks a local tree applying the file-selection policy (extension
// allow-list, excluded directories, size ceiling); Git shallow-clones a
// remote repository and then delegates to Dir. File content is decoded
// best-effort; undecodable bytes are replaced, never fatal.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MaxFileSize is the selection policy's size ceiling. Larger files are
// skipped entirely; they are almost always generated or vendored blobs.
const MaxFileSize = 1_000_000

// File is one selected file with decoded content.
type File struct {
	Path     string // relative, forward-slash normalized
	Language string
	Content  string
	Size     int64
}

// FileSource enumerates the files to index.
// Implementations outside this package (test fixtures, archives) are valid
// as long as paths are relative and forward-slash normalized.
type FileSource interface {
	Files(ctx context.Context) ([]File, error)
}

// codeExtensions is the indexable extension allow-list.
var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".go": true, ".rb": true, ".rs": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true, ".cs": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true,
	".sh": true, ".bash": true, ".yaml": true, ".yml": true,
	".json": true, ".xml": true, ".md": true, ".rst": true,
	".txt": true, ".toml": true, ".ini": true, ".cfg": true,
}

// excludeDirs are directory names pruned from the walk.
var excludeDirs = map[string]bool{
	"node_modules": true, "dist": true, "build": true, ".git": true,
	".next": true, "venv": true, "env": true, "__pycache__": true,
	".pytest_cache": true, ".mypy_cache": true, "target": true,
	"bin": true, ".idea": true, ".vscode": true, "coverage": true,
	"htmlcov": true,
}

// languageByExt maps extensions to language tags. Unknown extensions are "text".
var languageByExt = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript",
	".jsx": "javascript", ".tsx": "typescript", ".java": "java",
	".go": "go", ".rb": "ruby", ".rs": "rust", ".c": "c",
	".cpp": "cpp", ".h": "c", ".hpp": "cpp", ".cs": "csharp",
	".php": "php", ".swift": "swift", ".kt": "kotlin",
	".scala": "scala", ".sh": "bash", ".bash": "bash",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".xml": "xml",
	".md": "markdown", ".rst": "restructuredtext",
}

// DetectLanguage returns the language tag for a file path.
func DetectLanguage(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

// ShouldIndex reports whether the selection policy admits the file.
func ShouldIndex(relPath string, size int64) bool {
	if !codeExtensions[strings.ToLower(filepath.Ext(relPath))] {
		return false
	}
	for part := range strings.SplitSeq(filepath.ToSlash(relPath), "/") {
		if excludeDirs[part] {
			return false
		}
	}
	return size <= MaxFileSize
}

// Dir enumerates indexable files under a local directory.
type Dir struct {
	root   string
	logger *slog.Logger
}

// NewDir creates a Dir source for root.
func NewDir(root string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{root: root, logger: logger}
}

// Files walks the tree and returns every admitted, non-empty file.
// Unreadable files are logged and skipped, not fatal.
func (d *Dir) Files(ctx context.Context) ([]File, error) {
	absRoot, err := filepath.Abs(d.root)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}

	var files []File
	walkErr := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if entry.IsDir() {
			if excludeDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("skipping file without metadata", "path", rel, "error", err)
			return nil
		}
		if !ShouldIndex(rel, info.Size()) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("skipping unreadable file", "path", rel, "error", err)
			return nil
		}
		content := decodeBestEffort(data)
		if strings.TrimSpace(content) == "" {
			return nil
		}

		files = append(files, File{
			Path:     rel,
			Language: DetectLanguage(rel),
			Content:  content,
			Size:     info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", d.root, walkErr)
	}

	d.logger.Info("enumerated source files", "root", d.root, "files", len(files))
	return files, nil
}

// decodeBestEffort interprets data as UTF-8, replacing invalid sequences.
// Binary junk becomes replacement runes; the chunker handles the rest.
func decodeBestEffort(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

// Git shallow-clones a repository branch into a working directory and then
// enumerates it like Dir. The optional access token is injected into the
// https clone URL and never logged.
type Git struct {
	url     string
	branch  string
	token   string
	workDir string
	logger  *slog.Logger
}

// NewGit creates a Git source. workDir is removed and recreated per clone.
func NewGit(url, branch, token, workDir string, logger *slog.Logger) *Git {
	if branch == "" {
		branch = "main"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{url: url, branch: branch, token: token, workDir: workDir, logger: logger}
}

// Files clones the repository (depth 1) and enumerates its files.
func (g *Git) Files(ctx context.Context) ([]File, error) {
	if err := os.RemoveAll(g.workDir); err != nil {
		return nil, fmt.Errorf("clearing clone directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(g.workDir), 0o750); err != nil {
		return nil, fmt.Errorf("creating clone parent directory: %w", err)
	}

	cloneURL := g.url
	if g.token != "" && strings.HasPrefix(cloneURL, "https://") {
		cloneURL = "https://" + g.token + "@" + strings.TrimPrefix(cloneURL, "https://")
	}

	g.logger.Info("cloning repository", "url", g.url, "branch", g.branch)
	cmd := exec.CommandContext(ctx, "git", "clone",
		"--depth", "1", "--branch", g.branch, "--single-branch",
		cloneURL, g.workDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		// The token may appear in git's output; scrub before wrapping.
		msg := string(out)
		if g.token != "" {
			msg = strings.ReplaceAll(msg, g.token, "***")
		}
		return nil, fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(msg))
	}

	return NewDir(g.workDir, g.logger).Files(ctx)
}
