package publish

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/adaptauthoring/backend/internal/apperr"
	"go.uber.org/zap"
)

// fatalMarkers in the build output mean the build failed even when the tool exits with 0
var fatalMarkers = []string{"Fatal error", "Aborted due to warnings"}

// excerptLimit caps the build output attached to a BuildToolError
const excerptLimit = 2000

// BuildRequest describes one run of the framework build
type BuildRequest struct {
	OutputDir string
	Theme     string
	Menu      string
	// Mode is "dev" when source maps were requested and "prod" otherwise
	Mode string
}

// BuildTool is the interface that wraps the framework build
type BuildTool interface {
	// Method Run builds the course output.
	//
	// If the build fails, an *apperr.BuildToolError will be returned.
	Run(ctx context.Context, req BuildRequest) error
}

// commandBuildTool runs the framework build command in the framework checkout
type commandBuildTool struct {
	command      string
	frameworkDir string
	logger       *zap.Logger
}

// NewCommandBuildTool creates a build tool that shells out to command
func NewCommandBuildTool(command, frameworkDir string, logger *zap.Logger) *commandBuildTool {
	return &commandBuildTool{
		command:      command,
		frameworkDir: frameworkDir,
		logger:       logger,
	}
}

// Run executes "<command> server-build:<mode> --outputdir=… --theme=… --menu=…"
func (t *commandBuildTool) Run(ctx context.Context, req BuildRequest) error {
	cmd := exec.CommandContext(ctx, t.command,
		"server-build:"+req.Mode,
		"--outputdir="+req.OutputDir,
		"--theme="+req.Theme,
		"--menu="+req.Menu,
	)
	cmd.Dir = t.frameworkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	t.logger.Info("running build", zap.String("theme", req.Theme), zap.String("menu", req.Menu), zap.String("mode", req.Mode))
	err := cmd.Run()

	output := out.String()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &apperr.BuildToolError{ExitCode: exitCode, Excerpt: excerpt(output), Err: err}
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(output, marker) {
			return &apperr.BuildToolError{ExitCode: 0, Excerpt: excerpt(output)}
		}
	}
	return nil
}

// excerpt keeps the tail of the build output, where the failure is reported
func excerpt(output string) string {
	output = strings.TrimSpace(output)
	if len(output) <= excerptLimit {
		return output
	}
	return "…" + output[len(output)-excerptLimit:]
}

func (p *Publisher) runBuild(ctx context.Context, st *state) error {
	mode := "prod"
	if st.opts.SourceMaps {
		mode = "dev"
	}
	menu := st.buildMenu
	if menu == "" {
		menu = st.pluginConfig.Menu
	}

	err := p.build.Run(ctx, BuildRequest{
		OutputDir: st.outputDir,
		Theme:     st.buildTheme,
		Menu:      menu,
		Mode:      mode,
	})
	if err == nil {
		var built bool
		built, err = exists(filepath.Join(st.outputDir, indexFile))
		if err == nil && !built {
			err = &apperr.BuildToolError{Excerpt: "build output has no " + indexFile}
		}
	}
	if err == nil {
		return nil
	}

	if st.opts.Force {
		var buildErr *apperr.BuildToolError
		if !errors.As(err, &buildErr) {
			buildErr = &apperr.BuildToolError{ExitCode: -1, Err: err}
		}
		buildErr.Forced = true
		st.buildErr = buildErr
		p.logger.Warn("forced rebuild failed", zap.Error(buildErr), zap.String("course_id", st.courseID))
		return nil
	}
	return err
}
