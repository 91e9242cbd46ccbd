// Package cache maps (hash, quality) pairs to deterministic paths under
// the cache root and commits downloaded artifacts atomically. A file at
// a final path is either fully written or absent, never partial.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"zvuk-dl/internal/shared"
)

const (
	// serviceDir separates this service's artifacts inside a hash
	// directory, so other backends can share the same cache root.
	serviceDir = "zvuk"

	// tmpDir collects in-progress downloads under the cache root so the
	// final rename stays on one volume in the common case.
	tmpDir = ".tmp"

	dirPerm = 0o755
)

// Store resolves and commits cache entries under a fixed root.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. The directory tree is created
// on demand, not here.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve maps (hash, quality, extension) to the final artifact path.
// Pure and deterministic; fails only on an invalid hash. An empty
// extension yields a bare tier filename.
func (s *Store) Resolve(hash string, quality shared.Quality, ext string) (string, error) {
	if err := shared.ValidateHash(hash); err != nil {
		return "", err
	}
	name := quality.String()
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(s.root, hash, serviceDir, name), nil
}

// Lookup scans for an existing committed entry for any of the given
// tiers, in the given preference order. The extension is not known in
// advance, so files are matched by tier name prefix.
func (s *Store) Lookup(hash string, tiers ...shared.Quality) (*shared.CacheEntry, bool, error) {
	if err := shared.ValidateHash(hash); err != nil {
		return nil, false, err
	}

	dir := filepath.Join(s.root, hash, serviceDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, tier := range tiers {
		for _, e := range entries {
			if e.IsDir() || !matchesTier(e.Name(), tier) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			return &shared.CacheEntry{
				Hash:         hash,
				Quality:      tier,
				Path:         filepath.Join(dir, e.Name()),
				BytesWritten: info.Size(),
				FromCache:    true,
			}, true, nil
		}
	}
	return nil, false, nil
}

// TempFile creates an empty temp file for an in-progress download and
// returns its path.
func (s *Store) TempFile(hash string) (string, error) {
	if err := shared.ValidateHash(hash); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, tmpDir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	f, err := os.CreateTemp(dir, hash+"-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return name, nil
}

// Commit moves a completed temp file to its final cache path. First
// writer wins: if an entry for the tier already exists (committed by a
// racing request), the temp file is discarded and the existing entry is
// returned. The move is a rename, with a copy+remove fallback for
// cross-volume cache roots.
func (s *Store) Commit(tmpPath, hash string, quality shared.Quality, ext string) (*shared.CacheEntry, error) {
	dest, err := s.Resolve(hash, quality, ext)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if existing, ok, lookErr := s.Lookup(hash, quality); lookErr == nil && ok {
		_ = os.Remove(tmpPath)
		return existing, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to create cache directory: %v: %w", err, shared.ErrCommitFailed)
	}

	size := fileSize(tmpPath)
	if err := os.Rename(tmpPath, dest); err != nil {
		// Rename fails across volumes; fall back to copy+remove through
		// a sibling temp name so the final path never holds a partial file.
		if copyErr := copyAndRemove(tmpPath, dest); copyErr != nil {
			_ = os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to move artifact into cache: %v: %w", copyErr, shared.ErrCommitFailed)
		}
	}

	return &shared.CacheEntry{
		Hash:         hash,
		Quality:      quality,
		Path:         dest,
		BytesWritten: size,
	}, nil
}

// matchesTier reports whether a cache filename belongs to a tier:
// either the bare tier name or tier name plus extension.
func matchesTier(name string, tier shared.Quality) bool {
	t := tier.String()
	return name == t || strings.HasPrefix(name, t+".")
}

func copyAndRemove(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	staging := dest + ".part"
	out, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(staging)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staging)
		return err
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.Remove(staging)
		return err
	}
	return os.Remove(src)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
