package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adaptauthoring/backend/internal/apperr"
)

// manifestFiles are tried in order when reading a plugin manifest
var manifestFiles = []string{"bower.json", "package.json"}

// Manifest is the subset of a plugin manifest used for builds
type Manifest struct {
	Name               string            `json:"name"`
	Version            string            `json:"version"`
	PluginDependencies map[string]string `json:"pluginDependencies"`
	Properties         struct {
		Variables map[string]any `json:"variables"`
	} `json:"properties"`
}

// ReadManifest reads the manifest of the plugin installed in dir
func ReadManifest(dir string) (*Manifest, error) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &apperr.IOError{Op: "read", Path: path, Err: err}
		}

		manifest := &Manifest{}
		if err := json.Unmarshal(data, manifest); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return manifest, nil
	}

	return nil, apperr.NotFound("plugin manifest", dir)
}

// FileManifestReader reads manifests from a framework source checkout
type FileManifestReader struct {
	frameworkDir string
}

// NewFileManifestReader creates a manifest reader rooted at the framework directory
func NewFileManifestReader(frameworkDir string) *FileManifestReader {
	return &FileManifestReader{
		frameworkDir: frameworkDir,
	}
}

// PluginDir returns the install directory of a plugin
func (r *FileManifestReader) PluginDir(folder Folder, name string) string {
	return filepath.Join(r.frameworkDir, "src", string(folder), name)
}

// Dependencies returns the pluginDependencies declared by a plugin
func (r *FileManifestReader) Dependencies(ctx context.Context, folder Folder, name string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := ReadManifest(r.PluginDir(folder, name))
	if err != nil {
		return nil, err
	}
	return manifest.PluginDependencies, nil
}
