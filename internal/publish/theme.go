package publish

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
	"time"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/plugins"
	"go.uber.org/zap"
)

// variableGroupSeparator joins a group name and a property name into one variable name
const variableGroupSeparator = "-"

func (p *Publisher) applyTheme(ctx context.Context, st *state) error {
	name, err := p.customise(ctx, st, plugins.FolderTheme, st.pluginConfig.Theme, st.themeSettings, true)
	if err != nil {
		return err
	}
	st.buildTheme = name
	return nil
}

func (p *Publisher) applyMenu(ctx context.Context, st *state) error {
	name, err := p.customise(ctx, st, plugins.FolderMenu, st.pluginConfig.Menu, st.menuSettings, len(st.menuSettings) > 0)
	if err != nil {
		return err
	}
	st.buildMenu = name
	return nil
}

// customise copies a theme or menu into a scratch folder owned by the publishing user and
// writes the variables that differ from the plugin defaults into its override fragment.
// It returns the folder name to build with; without scratch the plugin is used unmodified.
func (p *Publisher) customise(ctx context.Context, st *state, folder plugins.Folder, name string, settings map[string]any, scratch bool) (string, error) {
	src := filepath.Join(p.cfg.FrameworkDir, "src", string(folder), name)
	if ok, err := exists(src); err != nil {
		return "", err
	} else if !ok {
		return "", apperr.NotFound(string(folder), name)
	}
	if !scratch {
		return name, nil
	}

	manifest, err := plugins.ReadManifest(src)
	if errors.Is(err, apperr.ErrNotFound) {
		manifest = &plugins.Manifest{}
	} else if err != nil {
		return "", err
	}

	scratchName := ScratchName(name, st.opts.UserID, st.courseID)
	dst := filepath.Join(p.cfg.FrameworkDir, "src", string(folder), scratchName)
	if err := os.RemoveAll(dst); err != nil {
		return "", &apperr.IOError{Op: "remove", Path: dst, Err: err}
	}
	st.scratch = append(st.scratch, dst)
	if err := copyDir(ctx, src, dst); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dst, scratchMark), []byte(st.opts.UserID), 0644); err != nil {
		return "", &apperr.IOError{Op: "write", Path: dst, Err: err}
	}

	diff := DiffVariables(FlattenVariables(settings), DefaultVariables(manifest.Properties.Variables))
	if err := WriteVariables(filepath.Join(dst, "less", variableFile), diff); err != nil {
		return "", err
	}

	p.logger.Debug("plugin customised",
		zap.String("folder", string(folder)),
		zap.String("plugin", name),
		zap.String("scratch", scratchName),
		zap.Int("variables", len(diff)),
	)
	return scratchName, nil
}

// ScratchName names the scratch copy of a plugin for one user and course
func ScratchName(name, userID, courseID string) string {
	return strings.Join([]string{name, userID, courseID}, "-")
}

// DefaultVariables reads the default value of every variable a plugin declares.
// Grouped variables are named "<group>-<property>".
func DefaultVariables(schema map[string]any) map[string]string {
	defaults := make(map[string]string)
	for name, raw := range schema {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if props, ok := def["properties"].(map[string]any); ok {
			for prop, rawProp := range props {
				propDef, ok := rawProp.(map[string]any)
				if !ok {
					continue
				}
				if v, ok := propDef["default"]; ok {
					defaults[name+variableGroupSeparator+prop] = formatVariable(v)
				}
			}
			continue
		}
		if v, ok := def["default"]; ok {
			defaults[name] = formatVariable(v)
		}
	}
	return defaults
}

// FlattenVariables turns course settings into variable values.
// One level of grouping is supported; deeper objects are ignored.
func FlattenVariables(settings map[string]any) map[string]string {
	values := make(map[string]string)
	for name, raw := range settings {
		switch v := raw.(type) {
		case nil:
		case map[string]any:
			for prop, propValue := range v {
				if _, nested := propValue.(map[string]any); nested || propValue == nil {
					continue
				}
				values[name+variableGroupSeparator+prop] = formatVariable(propValue)
			}
		default:
			values[name] = formatVariable(v)
		}
	}
	return values
}

// DiffVariables returns the values that differ from their default.
// Values without a default are always kept.
func DiffVariables(values, defaults map[string]string) map[string]string {
	diff := make(map[string]string)
	for name, value := range values {
		if def, ok := defaults[name]; !ok || value != def {
			diff[name] = value
		}
	}
	return diff
}

// WriteVariables writes the override fragment. With nothing to override any
// existing fragment is removed so the plugin defaults apply.
func WriteVariables(path string, vars map[string]string) error {
	if len(vars) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &apperr.IOError{Op: "remove", Path: path, Err: err}
		}
		return nil
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "@%s: %s;\n", name, vars[name])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &apperr.IOError{Op: "create", Path: filepath.Dir(path), Err: err}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return &apperr.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func formatVariable(v any) string {
	return strings.TrimSpace(fmt.Sprint(v))
}

func (p *Publisher) releaseScratch(st *state) {
	for _, dir := range st.scratch {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("failed to remove scratch folder", zap.Error(err), zap.String("path", dir))
		}
	}
}

// SweepScratch removes scratch folders left behind by publishes older than olderThan.
// It returns the number of folders removed.
func (p *Publisher) SweepScratch(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := p.now().Add(-olderThan)
	removed := 0

	for _, folder := range []plugins.Folder{plugins.FolderTheme, plugins.FolderMenu} {
		root := filepath.Join(p.cfg.FrameworkDir, "src", string(folder))
		entries, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, &apperr.IOError{Op: "read", Path: root, Err: err}
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			info, err := os.Stat(filepath.Join(dir, scratchMark))
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				return removed, &apperr.IOError{Op: "remove", Path: dir, Err: err}
			}
			removed++
		}
	}

	if removed > 0 {
		p.logger.Info("scratch folders removed", zap.Int("count", removed))
	}
	return removed, nil
}

// copyDir copies the regular files of src into dst
func copyDir(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &apperr.IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	return writeFile(dst, in)
}

func writeFile(dst string, r io.Reader) error {
	return writeWith(dst, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// writeWith creates dst and lets fill write its content
func writeWith(dst string, fill func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &apperr.IOError{Op: "create", Path: filepath.Dir(dst), Err: err}
	}
	out, err := os.Create(dst)
	if err != nil {
		return &apperr.IOError{Op: "create", Path: dst, Err: err}
	}
	if err := fill(out); err != nil {
		out.Close()
		return &apperr.IOError{Op: "write", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &apperr.IOError{Op: "write", Path: dst, Err: err}
	}
	return nil
}
