// Package filestore is a bytes-at-path store rooted at a single directory.
// It provides crash-atomic writes, component-wise globbing with brace
// alternation, advisory file locks and move notifications. All paths are
// relative to the store root.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrUnableToLock is returned when an advisory lock is held elsewhere.
	ErrUnableToLock = errors.New("unable to lock file")
)

// Store reads and writes files under a root directory.
type Store struct {
	root    string
	watcher *moveWatcher
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (s *Store) Root() string { return s.root }

// Abs returns the absolute path for a store-relative path.
func (s *Store) Abs(path string) string { return filepath.Join(s.root, path) }

// Read returns the contents of the file at path.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.Abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Write writes data to path, creating parent directories. The data is
// written to a sibling temp file and renamed into place, so a crash never
// leaves a partially written file at path.
func (s *Store) Write(path string, data []byte) error {
	dest := s.Abs(path)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "~"+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a file or directory exists at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(s.Abs(path))
	return err == nil
}

// Remove deletes the file at path. Removing a missing path is not an error.
func (s *Store) Remove(path string) error {
	err := os.Remove(s.Abs(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RemoveTree deletes the directory at path and everything under it.
func (s *Store) RemoveTree(path string) error {
	if err := os.RemoveAll(s.Abs(path)); err != nil {
		return fmt.Errorf("removing tree %s: %w", path, err)
	}
	return nil
}

// ModificationTime returns the mtime of path in milliseconds since epoch.
func (s *Store) ModificationTime(path string) (int64, error) {
	info, err := os.Stat(s.Abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime().UnixMilli(), nil
}

// Staleness returns how long ago, in milliseconds, the youngest file under
// path was modified. A tree that holds no files reports 0; it returns
// ErrNotFound when path does not exist.
func (s *Store) Staleness(path string) (int64, error) {
	root := s.Abs(path)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	var youngest time.Time
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(youngest) {
			youngest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", path, err)
	}
	if youngest.IsZero() {
		return 0, nil
	}
	return time.Since(youngest).Milliseconds(), nil
}

// Glob returns store-relative paths matching pattern. Patterns support '*'
// within a path component and '{a,b}' alternation. Results are sorted.
func (s *Store) Glob(pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, p := range expandBraces(pattern) {
		matches, err := filepath.Glob(s.Abs(p))
		if err != nil {
			return nil, fmt.Errorf("globbing %s: %w", p, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(s.root, m)
			if err != nil {
				return nil, fmt.Errorf("relativizing %s: %w", m, err)
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] {
				seen[rel] = true
				result = append(result, rel)
			}
		}
	}
	sort.Strings(result)
	return result, nil
}

// expandBraces expands the first '{a,b,...}' group in pattern recursively,
// producing the cartesian expansion of all groups.
func expandBraces(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}
	close := strings.IndexByte(pattern[open:], '}')
	if close < 0 {
		return []string{pattern}
	}
	close += open
	prefix, group, suffix := pattern[:open], pattern[open+1:close], pattern[close+1:]
	var out []string
	for _, alt := range strings.Split(group, ",") {
		out = append(out, expandBraces(prefix+alt+suffix)...)
	}
	return out
}
