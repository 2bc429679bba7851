// Package archive writes and extracts the zip files produced by publishing and exporting courses
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Mapper decides the archive name of a file or directory found while walking a root.
// "rel" is the slash separated path relative to the root. Returning false skips the entry,
// and for a directory skips everything below it.
type Mapper func(rel string, d fs.DirEntry) (name string, ok bool)

// Prefix returns a Mapper that stores every entry under dir
func Prefix(dir string) Mapper {
	return func(rel string, d fs.DirEntry) (string, bool) {
		return path.Join(dir, rel), true
	}
}

// Writer is a zip writer with directory helpers
type Writer struct {
	zw *zip.Writer
}

// NewWriter creates a zip writer on w
func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return &Writer{zw: zw}
}

// AddReader stores the content of r under name
func (w *Writer) AddReader(name string, r io.Reader) error {
	f, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}
	return nil
}

// AddFile stores the file at src under name
func (w *Writer) AddFile(src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	entry, err := w.zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}
	return nil
}

// AddDir stores every regular file below root, named by mapper
func (w *Writer) AddDir(ctx context.Context, root string, mapper Mapper) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name, ok := mapper(filepath.ToSlash(rel), d)
		if !ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return w.AddFile(p, name)
	})
}

// Close finishes the archive
func (w *Writer) Close() error {
	return w.zw.Close()
}

// WriteFile builds an archive at dst through fill. The archive is written to a temporary
// file next to dst and renamed into place only when fill succeeds.
func WriteFile(dst string, fill func(w *Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// ZipDir archives the content of root into dst
func ZipDir(ctx context.Context, root, dst string) error {
	return WriteFile(dst, func(w *Writer) error {
		return w.AddDir(ctx, root, Prefix(""))
	})
}

// Extract unpacks the archive read from r into dest.
// Entries resolving outside dest are rejected.
func Extract(ctx context.Context, r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	base := filepath.Clean(dest) + string(filepath.Separator)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target+string(filepath.Separator), base) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

// ExtractFile unpacks the archive at src into dest
func ExtractFile(ctx context.Context, src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return Extract(ctx, f, info.Size(), dest)
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return dst.Close()
}
