package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/archive"
	"github.com/adaptauthoring/backend/internal/plugins"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// exportExcludes are framework paths never shipped in an export
var exportExcludes = []string{
	".git",
	"**/.git/**",
	"node_modules",
	"node_modules/**",
	"build",
	"build/**",
	"src/course",
	"src/course/**",
	"**/" + scratchMark,
}

// pluginDirPattern matches the install folder of any plugin
const pluginDirPattern = "src/{components,extensions,menu,theme}/*"

func (p *Publisher) cleanup(ctx context.Context, st *state) error {
	flag := filepath.Join(st.courseRoot, rebuildFlag)
	if err := os.Remove(flag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &apperr.IOError{Op: "remove", Path: flag, Err: err}
	}

	configPath := filepath.Join(st.courseDir, "config.json")
	config := make(map[string]any)
	if err := readJSON(configPath, &config); err != nil {
		return err
	}
	if build, ok := config["build"].(map[string]any); ok {
		delete(build, "includes")
		if len(build) == 0 {
			delete(config, "build")
		}
		if err := writeJSON(configPath, config); err != nil {
			return err
		}
	}

	if st.rebuild && st.buildErr == nil && st.opts.Mode == ModePreview {
		if hasPreview, _ := st.course.Data["_hasPreview"].(bool); !hasPreview {
			if st.course.Data == nil {
				st.course.Data = make(map[string]any)
			}
			st.course.Data["_hasPreview"] = true
			if err := p.content.Update(ctx, st.course); err != nil {
				return fmt.Errorf("failed to mark course preview: %w", err)
			}
		}
	}
	return nil
}

func (p *Publisher) pack(ctx context.Context, st *state) error {
	dst := p.ArtifactPath(st.courseID, st.opts.Mode)

	var err error
	switch st.opts.Mode {
	case ModePublish:
		err = archive.ZipDir(ctx, st.outputDir, dst)
	case ModeExport:
		err = archive.WriteFile(dst, func(w *archive.Writer) error {
			if err := w.AddDir(ctx, p.cfg.FrameworkDir, st.exportMapper()); err != nil {
				return err
			}
			return w.AddDir(ctx, st.courseDir, archive.Prefix(path.Join("src", "course", p.cfg.Language)))
		})
	}
	if err != nil {
		return fmt.Errorf("failed to package %s: %w", st.opts.Mode, err)
	}

	st.artifact.ZipPath = dst
	p.logger.Info("course packaged", zap.String("course_id", st.courseID), zap.String("path", dst))
	return nil
}

// exportMapper selects the framework source shipped in an export: only included plugins,
// with customised theme and menu stored under their plugin names
func (st *state) exportMapper() archive.Mapper {
	included := make(map[string]bool, len(st.includes))
	for _, name := range st.buildIncludes() {
		included[name] = true
	}

	renames := make(map[string]string)
	if st.buildTheme != "" && st.buildTheme != st.pluginConfig.Theme {
		renames[path.Join("src", string(plugins.FolderTheme), st.buildTheme)] = path.Join("src", string(plugins.FolderTheme), st.pluginConfig.Theme)
	}
	if st.buildMenu != "" && st.buildMenu != st.pluginConfig.Menu {
		renames[path.Join("src", string(plugins.FolderMenu), st.buildMenu)] = path.Join("src", string(plugins.FolderMenu), st.pluginConfig.Menu)
	}

	return func(rel string, d fs.DirEntry) (string, bool) {
		for _, pattern := range exportExcludes {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return "", false
			}
		}
		if d.IsDir() {
			if ok, _ := doublestar.Match(pluginDirPattern, rel); ok && !included[path.Base(rel)] {
				return "", false
			}
		}
		for from, to := range renames {
			if rel == from || strings.HasPrefix(rel, from+"/") {
				return to + strings.TrimPrefix(rel, from), true
			}
		}
		return rel, true
	}
}
