package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/archive"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// placeAssets copies the assets the course references into the build, points the
// references at their build location and writes the course JSON files.
func (p *Publisher) placeAssets(ctx context.Context, st *state) error {
	records, err := p.assets.GetByCourse(ctx, st.courseID)
	if err != nil {
		return fmt.Errorf("failed to get course assets: %w", err)
	}
	byFilename := make(map[string]models.Asset, len(records))
	for _, a := range records {
		byFilename[a.Filename] = a
	}

	lang := p.cfg.Language
	referenced := make(map[string]models.Asset)
	var unknown []string
	rewrite := func(s string) string {
		return models.ReplaceAssetReferences(s, func(ref models.AssetReference) (string, bool) {
			asset, ok := lookupAsset(byFilename, ref.Filename)
			if !ok {
				unknown = append(unknown, ref.Filename)
				return "", false
			}
			referenced[asset.Filename] = asset
			return models.AssetBuildPath(lang, buildName(asset, st.opts.Mode)), true
		})
	}
	for _, obj := range st.doc.objects() {
		rewriteStrings(obj, rewrite)
	}
	if len(unknown) > 0 {
		p.logger.Warn("course references unknown assets", zap.String("course_id", st.courseID), zap.Strings("filenames", unknown))
	}

	assetsDir := filepath.Join(st.courseDir, "assets")
	if st.opts.Mode != ModePreview {
		if err := os.RemoveAll(assetsDir); err != nil {
			return &apperr.IOError{Op: "remove", Path: assetsDir, Err: err}
		}
	}
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &apperr.IOError{Op: "create", Path: assetsDir, Err: err}
	}

	filenames := make([]string, 0, len(referenced))
	for name := range referenced {
		filenames = append(filenames, name)
	}
	sort.Strings(filenames)

	st.doc.Assets = make([]map[string]any, 0, len(filenames))
	for _, name := range filenames {
		asset := referenced[name]
		if err := p.placeAsset(ctx, asset, assetsDir, st.opts.Mode); err != nil {
			return err
		}
		st.doc.Assets = append(st.doc.Assets, map[string]any{
			"_id":      asset.ID,
			"title":    asset.Title,
			"filename": asset.Filename,
			"mimeType": asset.MimeType,
			"size":     asset.Size,
			"path":     models.AssetBuildPath(lang, buildName(asset, st.opts.Mode)),
		})
	}

	st.doc.Config["build"] = map[string]any{"includes": st.buildIncludes()}
	return writeCourseFiles(st.courseDir, st.doc)
}

// buildIncludes lists the included plugin names, with customised theme and menu
// replaced by their scratch folders
func (st *state) buildIncludes() []string {
	names := plugins.Names(st.includes)
	for i, inc := range st.includes {
		switch {
		case inc.Folder == plugins.FolderTheme && st.buildTheme != "":
			names[i] = st.buildTheme
		case inc.Folder == plugins.FolderMenu && st.buildMenu != "":
			names[i] = st.buildMenu
		}
	}
	return names
}

func lookupAsset(byFilename map[string]models.Asset, filename string) (models.Asset, bool) {
	if a, ok := byFilename[filename]; ok {
		return a, true
	}
	if decoded, err := url.PathUnescape(filename); err == nil {
		a, ok := byFilename[decoded]
		return a, ok
	}
	return models.Asset{}, false
}

// buildName is the name of an asset inside the build assets folder.
// Packages are unpacked into a folder except when exporting.
func buildName(asset models.Asset, mode Mode) string {
	if asset.IsPackage() && mode != ModeExport {
		return asset.PackageName()
	}
	return asset.Filename
}

func (p *Publisher) placeAsset(ctx context.Context, asset models.Asset, assetsDir string, mode Mode) error {
	if !asset.IsPackage() {
		r, err := p.store.Open(ctx, asset.Repository, asset.Path)
		if err != nil {
			return fmt.Errorf("failed to open asset %s: %w", asset.Filename, err)
		}
		defer r.Close()
		return writeFile(filepath.Join(assetsDir, asset.Filename), r)
	}

	unzipped, err := p.store.IsUnzipped(ctx, asset.Repository, asset.Path)
	if err != nil {
		return fmt.Errorf("failed to inspect package %s: %w", asset.Filename, err)
	}

	if mode == ModeExport {
		dst := filepath.Join(assetsDir, asset.Filename)
		if unzipped {
			return writeWith(dst, func(w io.Writer) error {
				return p.store.Zip(ctx, asset.Repository, asset.Path, w)
			})
		}
		r, err := p.store.Open(ctx, asset.Repository, asset.Path)
		if err != nil {
			return fmt.Errorf("failed to open package %s: %w", asset.Filename, err)
		}
		defer r.Close()
		return writeFile(dst, r)
	}

	dst := filepath.Join(assetsDir, asset.PackageName())
	if mode == ModePreview {
		if ok, err := exists(dst); err != nil || ok {
			return err
		}
	}
	if err := os.RemoveAll(dst); err != nil {
		return &apperr.IOError{Op: "remove", Path: dst, Err: err}
	}
	if unzipped {
		return p.store.CopyFolder(ctx, asset.Repository, asset.Path, dst)
	}
	return p.extractPackage(ctx, asset, dst)
}

func (p *Publisher) extractPackage(ctx context.Context, asset models.Asset, dst string) error {
	tmp, err := os.CreateTemp("", "package-*.h5p")
	if err != nil {
		return &apperr.IOError{Op: "create", Path: os.TempDir(), Err: err}
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	r, err := p.store.Open(ctx, asset.Repository, asset.Path)
	if err != nil {
		return fmt.Errorf("failed to open package %s: %w", asset.Filename, err)
	}
	err = writeFile(tmp.Name(), r)
	r.Close()
	if err != nil {
		return err
	}

	if err := archive.ExtractFile(ctx, tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to unpack %s: %w", asset.Filename, err)
	}
	return nil
}

// rewriteStrings applies fn to every string value below v in place
func rewriteStrings(v any, fn func(string) string) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if s, ok := item.(string); ok {
				val[k] = fn(s)
				continue
			}
			rewriteStrings(item, fn)
		}
	case []any:
		for i, item := range val {
			if s, ok := item.(string); ok {
				val[i] = fn(s)
				continue
			}
			rewriteStrings(item, fn)
		}
	}
}

func writeCourseFiles(dir string, doc *courseDocument) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &apperr.IOError{Op: "create", Path: dir, Err: err}
	}
	for _, f := range doc.contentFiles() {
		if err := writeJSON(filepath.Join(dir, f.name), f.value); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &apperr.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return apperr.NotFound("build file", path)
	}
	if err != nil {
		return &apperr.IOError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
