package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore persists objects as files under a root directory
type FSStore struct {
	dir string
}

// NewFSStore creates a filesystem store rooted at dir
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Get reads the file backing path
func (s *FSStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.file(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, transient("read "+path, err)
	}
	return data, nil
}

// Put writes data atomically: temp file in the same directory, then rename
func (s *FSStore) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	target := s.file(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return transient("create temp", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return transient("write "+path, err)
	}
	if err := tmp.Close(); err != nil {
		return transient("close "+path, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return transient("rename "+path, err)
	}
	return nil
}

// List walks the directory tree under prefix
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Walk from the deepest directory fully contained in the prefix.
	walkRoot := s.dir
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		walkRoot = s.file(prefix[:idx])
	}

	var paths []string
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// file maps an object path to its file location
func (s *FSStore) file(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path))
}
