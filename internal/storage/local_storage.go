package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adaptauthoring/backend/internal/apperr"
)

// localStorage implements Backend using local filesystem
type localStorage struct {
	basePath string
}

// NewLocalStorage creates a new localStorage instance
func NewLocalStorage(basePath string) *localStorage {
	return &localStorage{
		basePath: basePath,
	}
}

// resolvePath converts a stored slash separated path into a path below basePath
func (s *localStorage) resolvePath(p string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(p))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("asset path %q is outside the asset store", p)
	}
	return full, nil
}

// Open opens a file for reading and returns a ReadCloser
func (s *localStorage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := s.resolvePath(p)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("asset file", p)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the files below the folder p
func (s *localStorage) List(ctx context.Context, p string) ([]string, error) {
	root, err := s.resolvePath(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
