package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
	"go.uber.org/zap"
)

const (
	gmcqPlugin = "adapt-contrib-gmcq"
	mcqPlugin  = "adapt-contrib-mcq"
)

// ManifestReader is the interface that wraps plugin manifest access
type ManifestReader interface {
	// Method Dependencies returns the pluginDependencies declared by an installed plugin.
	//
	// "folder" parameter is the framework folder the plugin is installed in.
	// "name" parameter is the plugin name.
	//
	// If the plugin has no manifest, an error matching apperr.ErrNotFound will be returned.
	Dependencies(ctx context.Context, folder plugins.Folder, name string) (map[string]string, error)
}

// ConfigRepository is the interface that wraps course config lookup
type ConfigRepository interface {
	// Method GetByCourse retrieves all entities of a kind that belong to a course.
	//
	// If some error occurs during data retrieve, the error will be returned together with "nil" value.
	GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error)
}

// pluginIncludeService computes the plugins bundled into a course build
type pluginIncludeService struct {
	manifests ManifestReader
	configs   ConfigRepository
	logger    *zap.Logger
}

// NewPluginIncludeService creates a new plugin include service
func NewPluginIncludeService(manifests ManifestReader, configs ConfigRepository, logger *zap.Logger) *pluginIncludeService {
	return &pluginIncludeService{
		manifests: manifests,
		configs:   configs,
		logger:    logger,
	}
}

// ResolvePluginIncludes returns the selected theme, menu, components and extensions followed by
// the dependencies their manifests declare. Dependencies are resolved one level deep and no name
// appears twice. A seed without a manifest is kept and logged.
func (s *pluginIncludeService) ResolvePluginIncludes(ctx context.Context, cfg plugins.CourseConfig) ([]plugins.Include, error) {
	var seeds []plugins.Include
	if cfg.Theme != "" {
		seeds = append(seeds, plugins.Include{Folder: plugins.FolderTheme, Name: cfg.Theme})
	}
	if cfg.Menu != "" {
		seeds = append(seeds, plugins.Include{Folder: plugins.FolderMenu, Name: cfg.Menu})
	}
	for _, name := range cfg.Components {
		seeds = append(seeds, plugins.Include{Folder: plugins.FolderComponents, Name: name})
	}
	for _, name := range cfg.Extensions {
		seeds = append(seeds, plugins.Include{Folder: plugins.FolderExtensions, Name: name})
	}

	includes := make([]plugins.Include, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	add := func(inc plugins.Include) {
		if inc.Name == "" || seen[inc.Name] {
			return
		}
		seen[inc.Name] = true
		includes = append(includes, inc)
	}

	for _, seed := range seeds {
		add(seed)
	}

	for _, seed := range seeds {
		deps, err := s.manifests.Dependencies(ctx, seed.Folder, seed.Name)
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("plugin manifest not found", zap.String("folder", string(seed.Folder)), zap.String("plugin", seed.Name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dependencies of %s: %w", seed.Name, err)
		}

		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			add(plugins.Include{Name: name})
		}
	}

	// gmcq extends mcq without declaring it
	if seen[gmcqPlugin] && !seen[mcqPlugin] {
		add(plugins.Include{Name: mcqPlugin})
	}

	return includes, nil
}

// ResolveCourseIncludes resolves the includes of a stored course from its config entity
func (s *pluginIncludeService) ResolveCourseIncludes(ctx context.Context, courseID string) ([]plugins.Include, error) {
	configs, err := s.configs.GetByCourse(ctx, models.KindConfig, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get course config: %w", err)
	}
	if len(configs) == 0 {
		return nil, apperr.NotFound("config", courseID)
	}

	return s.ResolvePluginIncludes(ctx, plugins.ConfigFromData(configs[0].Data))
}
