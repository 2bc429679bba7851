// Package publish turns a stored course into a previewable, publishable or exportable build
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/locks"
	"github.com/adaptauthoring/backend/internal/models"
	"github.com/adaptauthoring/backend/internal/plugins"
	"go.uber.org/zap"
)

// Mode selects what a publish produces
type Mode string

const (
	ModePreview Mode = "preview"
	ModePublish Mode = "publish"
	ModeExport  Mode = "export"
)

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePreview, ModePublish, ModeExport:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown publish mode %q", s)
}

const (
	rebuildFlag  = ".rebuild"
	indexFile    = "index.html"
	scratchMark  = ".scratch"
	variableFile = "course-variables.less"
)

// Options controls one Publish call
type Options struct {
	Mode       Mode
	Force      bool
	SourceMaps bool
	UserID     string
}

// Artifact describes the result of a publish
type Artifact struct {
	CourseID string        `json:"courseId"`
	Mode     Mode          `json:"mode"`
	Dir      string        `json:"dir"`
	ZipPath  string        `json:"zipPath,omitempty"`
	Rebuilt  bool          `json:"rebuilt"`
	Stages   []*StageState `json:"stages"`
}

// Config holds publisher settings
type Config struct {
	// FrameworkDir is the checkout of the framework source the build tool runs in
	FrameworkDir string
	// BuildRoot holds one build folder per course
	BuildRoot string
	Language  string
	LockTTL   time.Duration
}

// ContentRepository is the interface that wraps content access needed by the pipeline
type ContentRepository interface {
	// Method GetByID retrieves an entity of the given kind by its identifier.
	//
	// If the entity does not exist, an error matching apperr.ErrNotFound will be returned together with "nil" value.
	GetByID(ctx context.Context, kind models.Kind, id string) (*models.Entity, error)
	// Method GetByCourse retrieves all entities of a kind that belong to a course.
	//
	// If some error occurs during data retrieve, the error will be returned together with "nil" value.
	GetByCourse(ctx context.Context, kind models.Kind, courseID string) ([]models.Entity, error)
	// Method Update stores an existing entity.
	//
	// If some error occurs during data update, the error will be returned.
	Update(ctx context.Context, entity *models.Entity) error
}

// AssetRepository is the interface that wraps asset record lookup
type AssetRepository interface {
	// Method GetByCourse retrieves every asset linked to a course.
	//
	// If some error occurs during data retrieve, the error will be returned together with "nil" value.
	GetByCourse(ctx context.Context, courseID string) ([]models.Asset, error)
}

// AssetStore is the interface that wraps access to stored asset binaries
type AssetStore interface {
	Open(ctx context.Context, repository, path string) (io.ReadCloser, error)
	IsUnzipped(ctx context.Context, repository, path string) (bool, error)
	CopyFolder(ctx context.Context, repository, path, dest string) error
	Zip(ctx context.Context, repository, path string, w io.Writer) error
}

// IncludeResolver is the interface that wraps plugin include resolution
type IncludeResolver interface {
	// Method ResolvePluginIncludes returns the deduplicated plugins bundled into a build.
	//
	// If a manifest cannot be read, the error will be returned together with "nil" value.
	ResolvePluginIncludes(ctx context.Context, cfg plugins.CourseConfig) ([]plugins.Include, error)
}

// Locker is the interface that wraps the per-course publish lock
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (locks.Release, bool, error)
}

type stage struct {
	name string
	run  func(ctx context.Context, st *state) error
	skip func(st *state) bool
}

// Publisher runs the publish pipeline
type Publisher struct {
	cfg      Config
	content  ContentRepository
	assets   AssetRepository
	store    AssetStore
	includes IncludeResolver
	build    BuildTool
	locker   Locker
	logger   *zap.Logger
	now      func() time.Time
}

// NewPublisher creates a new publisher
func NewPublisher(cfg Config, content ContentRepository, assets AssetRepository, store AssetStore, includes IncludeResolver, build BuildTool, locker Locker, logger *zap.Logger) *Publisher {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Publisher{
		cfg:      cfg,
		content:  content,
		assets:   assets,
		store:    store,
		includes: includes,
		build:    build,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Publisher) stages() []stage {
	return []stage{
		{name: "assemble", run: p.assemble},
		{name: "validate", run: p.validate},
		{name: "theme", run: p.applyTheme},
		{name: "sanitize", run: p.sanitize},
		{name: "rebuild", run: p.decideRebuild},
		{name: "menu", run: p.applyMenu, skip: func(st *state) bool { return !st.rebuild }},
		{name: "assets", run: p.placeAssets},
		{name: "build", run: p.runBuild, skip: func(st *state) bool { return !st.rebuild }},
		{name: "cleanup", run: p.cleanup, skip: func(st *state) bool { return st.buildErr != nil }},
		{name: "package", run: p.pack, skip: func(st *state) bool { return st.opts.Mode == ModePreview || st.buildErr != nil }},
	}
}

// Publish builds the course in the requested mode.
//
// Stages run in order and the first failing stage aborts the rest; its error is returned
// wrapped in an apperr.StageError together with the artifact carrying the stage bookkeeping.
// When a forced rebuild fails, the build stage is recorded as succeeded, the stages after it
// are skipped so the rebuild flag survives, and the artifact is returned together with an
// apperr.BuildToolError marked Forced. Scratch folders are removed on every exit path.
func (p *Publisher) Publish(ctx context.Context, courseID string, opts Options) (*Artifact, error) {
	if courseID == "" {
		return nil, fmt.Errorf("course id is required")
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}

	release, ok, err := p.locker.TryLock(ctx, courseID, p.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock course: %w", err)
	}
	if !ok {
		return nil, apperr.ErrPublishInProgress
	}
	defer release()

	st := p.newState(courseID, opts)
	defer p.releaseScratch(st)

	started := p.now()
	stages := p.stages()
	for _, s := range stages {
		ss := st.stage(s.name)
		if s.skip != nil && s.skip(st) {
			ss.Status = StageSkipped
			continue
		}

		ss.start(p.now())
		err := s.run(ctx, st)
		ss.finish(p.now(), err)
		if err != nil {
			p.logger.Error("publish stage failed",
				zap.Error(err),
				zap.String("course_id", courseID),
				zap.String("mode", string(opts.Mode)),
				zap.String("stage", s.name),
			)
			p.collectStages(st, stages)
			return st.artifact, &apperr.StageError{Stage: s.name, Err: err}
		}
		if s.name == "build" && st.buildErr != nil {
			ss.LastError = st.buildErr.Error()
		}
	}

	p.collectStages(st, stages)

	p.logger.Info("course published",
		zap.String("course_id", courseID),
		zap.String("mode", string(opts.Mode)),
		zap.Bool("rebuilt", st.rebuild),
		zap.Duration("duration", p.now().Sub(started)),
	)

	return st.artifact, st.buildErr
}

// collectStages copies the stage bookkeeping into the artifact
func (p *Publisher) collectStages(st *state, stages []stage) {
	st.artifact.Stages = st.artifact.Stages[:0]
	for _, s := range stages {
		st.artifact.Stages = append(st.artifact.Stages, st.stage(s.name))
	}
	st.artifact.Rebuilt = st.rebuild
}

func (p *Publisher) newState(courseID string, opts Options) *state {
	courseRoot := p.courseRoot(courseID)
	st := &state{
		courseID:   courseID,
		opts:       opts,
		courseRoot: courseRoot,
		courseDir:  filepath.Join(courseRoot, "course", p.cfg.Language),
		outputDir:  filepath.Join(courseRoot, "build"),
		stages:     make(map[string]*StageState),
	}
	st.artifact = &Artifact{
		CourseID: courseID,
		Mode:     opts.Mode,
		Dir:      st.outputDir,
	}
	return st
}

func (p *Publisher) courseRoot(courseID string) string {
	return filepath.Join(p.cfg.BuildRoot, courseID)
}

// ArtifactPath returns where the zip of a publish or export is stored
func (p *Publisher) ArtifactPath(courseID string, mode Mode) string {
	return filepath.Join(p.courseRoot(courseID), string(mode)+".zip")
}

// MarkRebuild flags the course so that its next preview rebuilds the framework output.
// It is called whenever the theme, menu or plugin selection of a course changes.
func (p *Publisher) MarkRebuild(ctx context.Context, courseID string) error {
	if courseID == "" {
		return fmt.Errorf("course id is required")
	}

	root := p.courseRoot(courseID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return &apperr.IOError{Op: "create", Path: root, Err: err}
	}
	flag := filepath.Join(root, rebuildFlag)
	if err := os.WriteFile(flag, nil, 0644); err != nil {
		return &apperr.IOError{Op: "write", Path: flag, Err: err}
	}
	return nil
}

// RebuildRequired reports whether the framework build must run.
// Publish and export always rebuild; otherwise a forced call, a rebuild flag or a missing
// index.html from the previous build each require it.
func RebuildRequired(mode Mode, force bool, courseRoot string) (bool, error) {
	if mode == ModePublish || mode == ModeExport || force {
		return true, nil
	}

	flagged, err := exists(filepath.Join(courseRoot, rebuildFlag))
	if err != nil {
		return false, err
	}
	if flagged {
		return true, nil
	}

	built, err := exists(filepath.Join(courseRoot, "build", indexFile))
	if err != nil {
		return false, err
	}
	return !built, nil
}

func (p *Publisher) decideRebuild(ctx context.Context, st *state) error {
	rebuild, err := RebuildRequired(st.opts.Mode, st.opts.Force, st.courseRoot)
	if err != nil {
		return err
	}
	st.rebuild = rebuild
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &apperr.IOError{Op: "stat", Path: path, Err: err}
	}
	return true, nil
}
