package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/plugins"
	"github.com/adaptauthoring/backend/internal/publish"
	"github.com/adaptauthoring/backend/internal/services"
	"github.com/adaptauthoring/backend/internal/tasks"
	"github.com/adaptauthoring/backend/libs/auth/middleware"
	"github.com/adaptauthoring/backend/libs/handlers"
	"github.com/adaptauthoring/backend/libs/middlewares"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CourseDuplicator is the interface that wraps course duplication
type CourseDuplicator interface {
	// Method DuplicateCourse creates a copy of the course owned by "userID".
	//
	// If the copy is usable but incomplete, the report will be returned together with an error describing what was left out.
	// If duplication fails, the error will be returned together with "nil" value.
	DuplicateCourse(ctx context.Context, courseID, userID string) (*services.DuplicationReport, error)
}

// CoursePublisher is the interface that wraps the publish pipeline
type CoursePublisher interface {
	// Method Publish builds the course in the requested mode.
	//
	// If a stage fails, the error will be returned together with "nil" value.
	// A failed forced rebuild returns the artifact together with a forced apperr.BuildToolError.
	Publish(ctx context.Context, courseID string, opts publish.Options) (*publish.Artifact, error)
	// Method ArtifactPath returns where the zip of a publish or export of the course is stored.
	ArtifactPath(courseID string, mode publish.Mode) string
	// Method MarkRebuild flags the course so that its next preview rebuilds the framework output.
	//
	// If the flag cannot be written, the error will be returned.
	MarkRebuild(ctx context.Context, courseID string) error
}

// IncludeResolver is the interface that wraps plugin include resolution
type IncludeResolver interface {
	// Method ResolveCourseIncludes lists the plugins the course build needs.
	//
	// If the course config or a plugin manifest is missing, the error will be returned together with "nil" value.
	ResolveCourseIncludes(ctx context.Context, courseID string) ([]plugins.Include, error)
}

// PublishDispatcher is the interface that wraps background publishing
type PublishDispatcher interface {
	// Method EnqueuePublish queues a publish and returns the task id.
	//
	// If the task cannot be queued, the error will be returned together with an empty string.
	EnqueuePublish(ctx context.Context, p tasks.PublishPayload) (string, error)
}

// DuplicateResponse is returned by the duplicate endpoint
type DuplicateResponse struct {
	Report   *services.DuplicationReport `json:"report"`
	Warnings []string                    `json:"warnings,omitempty"`
}

// PublishResponse is returned by a synchronous publish
type PublishResponse struct {
	Artifact *publish.Artifact `json:"artifact"`
	Warning  string            `json:"warning,omitempty"`
}

// QueuedResponse is returned by an asynchronous publish
type QueuedResponse struct {
	TaskID string `json:"taskId"`
}

// IncludesResponse lists the plugins of a course build
type IncludesResponse struct {
	Includes []plugins.Include `json:"includes"`
}

// CourseHandler handles course duplication and publishing requests
type CourseHandler struct {
	handlers.BaseHandler
	duplicator CourseDuplicator
	publisher  CoursePublisher
	includes   IncludeResolver
	dispatcher PublishDispatcher
}

// NewCourseHandler creates a new course handler.
// dispatcher may be nil, in which case asynchronous publishing is unavailable.
func NewCourseHandler(duplicator CourseDuplicator, publisher CoursePublisher, includes IncludeResolver, dispatcher PublishDispatcher, logger *zap.Logger) *CourseHandler {
	return &CourseHandler{
		BaseHandler: handlers.BaseHandler{Logger: logger},
		duplicator:  duplicator,
		publisher:   publisher,
		includes:    includes,
		dispatcher:  dispatcher,
	}
}

// RegisterRoutes registers all course handler routes.
// Readers need authMiddleware, writers need authorMiddleware and the rebuild hook needs apiKeyMiddleware.
func (h *CourseHandler) RegisterRoutes(r chi.Router, authMiddleware, authorMiddleware, apiKeyMiddleware func(http.Handler) http.Handler) {
	r.Route("/courses/{id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/download", h.Download)
			r.Get("/includes", h.Includes)
		})
		r.Group(func(r chi.Router) {
			r.Use(authorMiddleware)
			r.Post("/duplicate", h.Duplicate)
			r.Post("/publish", h.Publish)
		})
		r.With(apiKeyMiddleware).Post("/rebuild", h.Rebuild)
	})
}

// Duplicate handles POST /api/v1/courses/{id}/duplicate
// @Summary Duplicate a course
// @Description Copy a course with all of its content and asset links; the copy is owned by the caller
// @Tags courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 201 {object} handlers.DuplicateResponse
// @Failure 401 {object} handlers.ErrorResponse
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 422 {object} handlers.ErrorResponse
// @Failure 500 {object} handlers.ErrorResponse
// @Router /api/v1/courses/{id}/duplicate [post]
func (h *CourseHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.RespondError(w, r, http.StatusUnauthorized, "user not authenticated")
		return
	}

	report, err := h.duplicator.DuplicateCourse(r.Context(), courseID, userID)
	if err != nil && report == nil {
		h.respondFailure(w, r, "failed to duplicate course", err, zap.String("course_id", courseID))
		return
	}

	resp := DuplicateResponse{Report: report}
	if err != nil {
		h.Logger.Warn("course duplicated with problems", zap.String("course_id", courseID), zap.String("new_course_id", report.CourseID), zap.Error(err))
		resp.Warnings = errorMessages(err)
	}
	h.RespondJSON(w, http.StatusCreated, resp)
}

// Publish handles POST /api/v1/courses/{id}/publish
// @Summary Publish a course
// @Description Build a preview, a publish package or a source export of a course
// @Tags courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param mode query string false "preview, publish or export, default: preview"
// @Param force query bool false "Rebuild even when the previous preview is current"
// @Param sourcemaps query bool false "Build in development mode with source maps"
// @Param async query bool false "Queue the publish and return immediately"
// @Param notify query string false "E-mail address told when a queued publish finishes"
// @Success 200 {object} handlers.PublishResponse
// @Success 202 {object} handlers.QueuedResponse
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Failure 422 {object} handlers.ErrorResponse
// @Failure 500 {object} handlers.ErrorResponse
// @Router /api/v1/courses/{id}/publish [post]
func (h *CourseHandler) Publish(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	userID, _ := middleware.GetUserID(r.Context())

	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(publish.ModePreview)
	}
	mode, err := publish.ParseMode(modeParam)
	if err != nil {
		h.RespondError(w, r, http.StatusBadRequest, "invalid mode parameter")
		return
	}

	var force, sourceMaps, async bool
	for name, dst := range map[string]*bool{"force": &force, "sourcemaps": &sourceMaps, "async": &async} {
		if *dst, err = handlers.QueryBool(r, name); err != nil {
			h.RespondError(w, r, http.StatusBadRequest, "invalid "+name+" parameter")
			return
		}
	}

	if async {
		if h.dispatcher == nil {
			h.RespondError(w, r, http.StatusServiceUnavailable, "background publishing is not configured")
			return
		}
		taskID, err := h.dispatcher.EnqueuePublish(r.Context(), tasks.PublishPayload{
			CourseID:    courseID,
			Mode:        string(mode),
			Force:       force,
			SourceMaps:  sourceMaps,
			UserID:      userID,
			NotifyEmail: r.URL.Query().Get("notify"),
			RequestID:   middlewares.GetRequestID(r.Context()),
		})
		if err != nil {
			h.Logger.Error("failed to queue publish", zap.String("course_id", courseID), zap.Error(err))
			h.RespondError(w, r, http.StatusInternalServerError, "failed to queue publish")
			return
		}
		h.RespondJSON(w, http.StatusAccepted, QueuedResponse{TaskID: taskID})
		return
	}

	artifact, err := h.publisher.Publish(r.Context(), courseID, publish.Options{
		Mode:       mode,
		Force:      force,
		SourceMaps: sourceMaps,
		UserID:     userID,
	})
	var buildErr *apperr.BuildToolError
	switch {
	case err == nil:
		h.RespondJSON(w, http.StatusOK, PublishResponse{Artifact: artifact})
	case artifact != nil && errors.As(err, &buildErr) && buildErr.Forced:
		h.Logger.Warn("forced rebuild failed", zap.String("course_id", courseID), zap.Error(err))
		h.RespondJSON(w, http.StatusOK, PublishResponse{Artifact: artifact, Warning: buildErr.Error()})
	default:
		h.respondFailure(w, r, "failed to publish course", err, zap.String("course_id", courseID), zap.String("mode", string(mode)))
	}
}

// Download handles GET /api/v1/courses/{id}/download
// @Summary Download a course package
// @Description Download the zip produced by the last publish or export of a course
// @Tags courses
// @Produce application/zip
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param mode query string false "publish or export, default: publish"
// @Success 200 {file} file
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 500 {object} handlers.ErrorResponse
// @Router /api/v1/courses/{id}/download [get]
func (h *CourseHandler) Download(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(publish.ModePublish)
	}
	mode, err := publish.ParseMode(modeParam)
	if err != nil || mode == publish.ModePreview {
		h.RespondError(w, r, http.StatusBadRequest, "invalid mode parameter")
		return
	}

	path := h.publisher.ArtifactPath(courseID, mode)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			h.RespondError(w, r, http.StatusNotFound, "course package not found")
			return
		}
		h.Logger.Error("failed to open course package", zap.String("path", path), zap.Error(err))
		h.RespondError(w, r, http.StatusInternalServerError, "failed to open course package")
		return
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		h.Logger.Error("failed to get file info", zap.String("path", path), zap.Error(err))
		h.RespondError(w, r, http.StatusInternalServerError, "failed to open course package")
		return
	}

	filename := courseID + "-" + filepath.Base(path)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeContent(w, r, filename, fileInfo.ModTime(), file)
}

// Includes handles GET /api/v1/courses/{id}/includes
// @Summary List course build plugins
// @Description Resolve the plugins a course build includes, with their dependencies
// @Tags courses
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} handlers.IncludesResponse
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 500 {object} handlers.ErrorResponse
// @Router /api/v1/courses/{id}/includes [get]
func (h *CourseHandler) Includes(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	includes, err := h.includes.ResolveCourseIncludes(r.Context(), courseID)
	if err != nil {
		h.respondFailure(w, r, "failed to resolve plugin includes", err, zap.String("course_id", courseID))
		return
	}
	if includes == nil {
		includes = []plugins.Include{}
	}

	h.RespondJSON(w, http.StatusOK, IncludesResponse{Includes: includes})
}

// Rebuild handles POST /api/v1/courses/{id}/rebuild
// @Summary Flag a course for rebuild
// @Description Called when the theme, menu or plugins of a course change so its next preview rebuilds
// @Tags courses
// @Security ApiKeyAuth
// @Param id path string true "Course ID"
// @Success 204
// @Failure 401 {object} handlers.ErrorResponse
// @Failure 500 {object} handlers.ErrorResponse
// @Router /api/v1/courses/{id}/rebuild [post]
func (h *CourseHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")

	if err := h.publisher.MarkRebuild(r.Context(), courseID); err != nil {
		h.Logger.Error("failed to flag course for rebuild", zap.String("course_id", courseID), zap.Error(err))
		h.RespondError(w, r, http.StatusInternalServerError, "failed to flag course for rebuild")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondFailure maps a service error to a status code and logs unexpected failures
func (h *CourseHandler) respondFailure(w http.ResponseWriter, r *http.Request, message string, err error, fields ...zap.Field) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, append(fields, zap.Error(err))...)
		h.RespondError(w, r, status, message)
		return
	}

	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		h.RespondError(w, r, status, message, validation.Problems...)
		return
	}
	h.RespondError(w, r, status, message, err.Error())
}

func statusFromError(err error) int {
	var validation *apperr.ValidationError
	var structural *apperr.StructuralError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrPublishInProgress):
		return http.StatusConflict
	case errors.As(err, &validation), errors.As(err, &structural):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorMessages flattens a joined error into one message per error
func errorMessages(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, errorMessages(e)...)
		}
		return msgs
	}
	return []string{err.Error()}
}
