package vecindex

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// File layout under the index directory, per repository:
//
//	<repoID>.index     gob-encoded indexFile (dimension + vectors)
//	<repoID>.map.json  JSON array, position -> chunk ID
//	<repoID>.lock      flock guarding build/load
//
// Build writes both artifacts to temporaries and renames them into place
// while holding the exclusive lock; Search takes the shared lock while
// loading. A completed build is therefore visible atomically and an
// in-flight query never observes a torn index.

// indexFile is the persisted vector set.
type indexFile struct {
	Dimension int
	Vectors   [][]float32
}

// Flat is a brute-force L2 index stored on the local filesystem.
// It is safe for concurrent use; per-repository file locks serialize
// builds against loads.
type Flat struct {
	dir    string
	logger *slog.Logger
}

// NewFlat creates a flat index rooted at dir, creating it if needed.
func NewFlat(dir string, logger *slog.Logger) (*Flat, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Flat{dir: dir, logger: logger}, nil
}

// Build validates entries, writes the vector file and the position->chunkID
// mapping to temporaries, and renames both into place under an exclusive
// per-repository lock. Any prior index for the repository is replaced.
func (f *Flat) Build(ctx context.Context, repoID string, entries []Entry) error {
	if err := validateRepoID(repoID); err != nil {
		return err
	}
	dim, err := validateEntries(entries)
	if err != nil {
		return err
	}

	vectors := make([][]float32, len(entries))
	mapping := make([]string, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
		mapping[i] = e.ChunkID
	}

	lock := flock.New(f.lockPath(repoID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking index for %s: %w", repoID, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.logger.Warn("unlocking index", "repo_id", repoID, "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := writeGobAtomic(f.indexPath(repoID), indexFile{Dimension: dim, Vectors: vectors}); err != nil {
		return fmt.Errorf("writing index for %s: %w", repoID, err)
	}
	if err := writeJSONAtomic(f.mappingPath(repoID), mapping); err != nil {
		return fmt.Errorf("writing mapping for %s: %w", repoID, err)
	}

	f.logger.Info("built vector index",
		"repo_id", repoID, "vectors", len(vectors), "dimension", dim)
	return nil
}

// Search loads the repository's index under a shared lock and returns up to
// k chunk IDs by ascending L2 distance. Ties keep insertion order.
func (f *Flat) Search(ctx context.Context, repoID string, query []float32, k int) ([]string, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	idx, mapping, err := f.load(repoID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != idx.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimension, len(query), idx.Dimension)
	}

	type scored struct {
		pos  int
		dist float32
	}
	dists := make([]scored, len(idx.Vectors))
	for i, v := range idx.Vectors {
		dists[i] = scored{pos: i, dist: l2Squared(query, v)}
	}
	sort.SliceStable(dists, func(a, b int) bool { return dists[a].dist < dists[b].dist })

	if k > len(dists) {
		k = len(dists)
	}
	ids := make([]string, k)
	for i := 0; i < k; i++ {
		ids[i] = mapping[dists[i].pos]
	}
	return ids, nil
}

// load reads both artifacts and enforces the cardinality invariant.
func (f *Flat) load(repoID string) (indexFile, []string, error) {
	lock := flock.New(f.lockPath(repoID))
	if err := lock.RLock(); err != nil {
		return indexFile{}, nil, fmt.Errorf("locking index for %s: %w", repoID, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.logger.Warn("unlocking index", "repo_id", repoID, "error", err)
		}
	}()

	idxFh, err := os.Open(f.indexPath(repoID))
	if err != nil {
		if os.IsNotExist(err) {
			return indexFile{}, nil, fmt.Errorf("%w: repository %s", ErrNotFound, repoID)
		}
		return indexFile{}, nil, fmt.Errorf("opening index for %s: %w", repoID, err)
	}
	defer func() { _ = idxFh.Close() }()

	var idx indexFile
	if err := gob.NewDecoder(idxFh).Decode(&idx); err != nil {
		return indexFile{}, nil, fmt.Errorf("%w: decoding vectors for %s: %v", ErrCorrupted, repoID, err)
	}

	mapData, err := os.ReadFile(f.mappingPath(repoID))
	if err != nil {
		if os.IsNotExist(err) {
			return indexFile{}, nil, fmt.Errorf("%w: repository %s", ErrNotFound, repoID)
		}
		return indexFile{}, nil, fmt.Errorf("reading mapping for %s: %w", repoID, err)
	}
	var mapping []string
	if err := json.Unmarshal(mapData, &mapping); err != nil {
		return indexFile{}, nil, fmt.Errorf("%w: decoding mapping for %s: %v", ErrCorrupted, repoID, err)
	}

	// The mapping and vector set must stay position-aligned. A mismatch
	// means a partial or damaged write; fail closed.
	if len(mapping) != len(idx.Vectors) {
		return indexFile{}, nil, fmt.Errorf("%w: %d vectors but %d mapped ids for %s",
			ErrCorrupted, len(idx.Vectors), len(mapping), repoID)
	}
	return idx, mapping, nil
}

func (f *Flat) indexPath(repoID string) string {
	return filepath.Join(f.dir, repoID+".index")
}

func (f *Flat) mappingPath(repoID string) string {
	return filepath.Join(f.dir, repoID+".map.json")
}

func (f *Flat) lockPath(repoID string) string {
	return filepath.Join(f.dir, repoID+".lock")
}

// l2Squared computes squared Euclidean distance. The square root is
// monotonic and irrelevant for ranking, so it is skipped.
func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// validateRepoID rejects IDs that could escape the index directory.
func validateRepoID(repoID string) error {
	if repoID == "" || strings.ContainsAny(repoID, "/\\") || strings.Contains(repoID, "..") {
		return fmt.Errorf("invalid repository id %q", repoID)
	}
	return nil
}

func writeGobAtomic(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
