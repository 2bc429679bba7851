// Package storage gives the publish pipeline read access to stored asset binaries
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/adaptauthoring/backend/internal/archive"
)

// Backend is one asset repository: the local filesystem or a cloud bucket
type Backend interface {
	// Open opens the stored file at p. A missing file is reported as apperr.ErrNotFound.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	// List returns the slash separated paths of all files stored below the folder p,
	// relative to p. A file or missing path yields no entries.
	List(ctx context.Context, p string) ([]string, error)
}

// AssetStore routes asset access to the backend named by the asset's repository
type AssetStore struct {
	backends map[string]Backend
	fallback string
}

// NewAssetStore creates an asset store. Assets whose repository is empty or unknown
// are served by the fallback backend.
func NewAssetStore(fallback string, backends map[string]Backend) *AssetStore {
	return &AssetStore{
		backends: backends,
		fallback: fallback,
	}
}

func (s *AssetStore) backend(repository string) (Backend, error) {
	if b, ok := s.backends[repository]; ok {
		return b, nil
	}
	if b, ok := s.backends[s.fallback]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no asset repository %q configured", repository)
}

// Open opens a stored asset file
func (s *AssetStore) Open(ctx context.Context, repository, p string) (io.ReadCloser, error) {
	b, err := s.backend(repository)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, p)
}

// IsUnzipped reports whether p holds an already unpacked package folder
func (s *AssetStore) IsUnzipped(ctx context.Context, repository, p string) (bool, error) {
	b, err := s.backend(repository)
	if err != nil {
		return false, err
	}
	files, err := b.List(ctx, p)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// CopyFolder copies every file stored below p into dest
func (s *AssetStore) CopyFolder(ctx context.Context, repository, p, dest string) error {
	b, err := s.backend(repository)
	if err != nil {
		return err
	}
	files, err := b.List(ctx, p)
	if err != nil {
		return err
	}

	for _, rel := range files {
		if err := copyFile(ctx, b, path.Join(p, rel), filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	return nil
}

// Zip writes the folder stored at p to w as a zip archive
func (s *AssetStore) Zip(ctx context.Context, repository, p string, w io.Writer) error {
	b, err := s.backend(repository)
	if err != nil {
		return err
	}
	files, err := b.List(ctx, p)
	if err != nil {
		return err
	}

	zw := archive.NewWriter(w)
	for _, rel := range files {
		r, err := b.Open(ctx, path.Join(p, rel))
		if err != nil {
			return err
		}
		err = zw.AddReader(rel, r)
		r.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}

func copyFile(ctx context.Context, b Backend, src, dst string) error {
	r, err := b.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return f.Close()
}
