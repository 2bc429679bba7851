// Package plugins reads framework plugin manifests and describes which plugins a course includes
package plugins

// Folder is the framework source folder a plugin is installed in
type Folder string

const (
	FolderComponents Folder = "components"
	FolderExtensions Folder = "extensions"
	FolderMenu       Folder = "menu"
	FolderTheme      Folder = "theme"
)

// Folders lists every plugin folder of the framework source tree
var Folders = []Folder{FolderComponents, FolderExtensions, FolderMenu, FolderTheme}

// Include is one plugin bundled into a course build.
// Dependencies pulled in through a manifest carry no folder.
type Include struct {
	Folder Folder `json:"folder,omitempty"`
	Name   string `json:"name"`
}

// CourseConfig is the plugin selection of a course config entity
type CourseConfig struct {
	Theme      string
	Menu       string
	Components []string
	Extensions []string
}

// ConfigFromData reads the plugin selection from a config payload.
// Enabled plugins are stored either as names or as objects with a "name" field.
func ConfigFromData(data map[string]any) CourseConfig {
	cfg := CourseConfig{}
	cfg.Theme, _ = data["_theme"].(string)
	cfg.Menu, _ = data["_menu"].(string)
	cfg.Components = pluginNames(data["_enabledComponents"])
	cfg.Extensions = pluginNames(data["_enabledExtensions"])
	return cfg
}

func pluginNames(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

// Names returns the plugin names of includes in order
func Names(includes []Include) []string {
	names := make([]string, len(includes))
	for i, inc := range includes {
		names[i] = inc.Name
	}
	return names
}
