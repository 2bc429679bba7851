package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/adaptauthoring/backend/internal/apperr"
	"github.com/adaptauthoring/backend/internal/notify"
	"github.com/adaptauthoring/backend/internal/publish"
	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Publisher is the interface that wraps the publish pipeline
type Publisher interface {
	// Method Publish builds the course in the requested mode.
	//
	// If a stage fails, the error will be returned together with "nil" value.
	// A failed forced rebuild returns the artifact together with a forced apperr.BuildToolError.
	Publish(ctx context.Context, courseID string, opts publish.Options) (*publish.Artifact, error)
	// Method SweepScratch removes scratch folders older than olderThan and returns how many were removed.
	SweepScratch(ctx context.Context, olderThan time.Duration) (int, error)
}

// Notifier is the interface that wraps publish notifications
type Notifier interface {
	// Method PublishFinished tells a user how a publish ended.
	//
	// If the notification cannot be delivered, the error will be returned.
	PublishFinished(ctx context.Context, to string, notice notify.PublishNotice) error
}

// Processor handles background jobs
type Processor struct {
	publisher Publisher
	notifier  Notifier
	baseURL   string
	logger    *zap.Logger
}

// NewProcessor creates a new processor instance. notifier may be nil to disable e-mails.
func NewProcessor(publisher Publisher, notifier Notifier, baseURL string, logger *zap.Logger) *Processor {
	return &Processor{
		publisher: publisher,
		notifier:  notifier,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// Register adds the task handlers to mux
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePublishCourse, p.HandlePublishCourse)
	mux.HandleFunc(TypeSweepScratch, p.HandleSweepScratch)
}

// HandlePublishCourse runs a queued publish.
// Lock contention and transient failures are retried; invalid courses are not.
func (p *Processor) HandlePublishCourse(ctx context.Context, t *asynq.Task) error {
	var payload PublishPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode publish payload: %v: %w", err, asynq.SkipRetry)
	}
	mode, err := publish.ParseMode(payload.Mode)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := p.logger.With(
		zap.String("course_id", payload.CourseID),
		zap.String("mode", payload.Mode),
		zap.String("request_id", payload.RequestID),
	)

	artifact, err := p.publisher.Publish(ctx, payload.CourseID, publish.Options{
		Mode:       mode,
		Force:      payload.Force,
		SourceMaps: payload.SourceMaps,
		UserID:     payload.UserID,
	})

	notice := notify.PublishNotice{CourseID: payload.CourseID, Mode: payload.Mode}
	var buildErr *apperr.BuildToolError
	switch {
	case err == nil:
	case artifact != nil && errors.As(err, &buildErr) && buildErr.Forced:
		logger.Warn("forced rebuild failed, publish completed", zap.Error(err))
		notice.Warning = buildErr.Error()
	case errors.Is(err, apperr.ErrPublishInProgress):
		logger.Info("course is being published, retrying later")
		return err
	case permanent(err):
		logger.Error("publish failed", zap.Error(err))
		notice.Failure = err.Error()
		p.notify(ctx, logger, payload.NotifyEmail, notice)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		logger.Error("publish failed", zap.Error(err))
		if isLastAttempt(ctx) {
			notice.Failure = err.Error()
			p.notify(ctx, logger, payload.NotifyEmail, notice)
		}
		return err
	}

	if artifact != nil && artifact.ZipPath != "" {
		notice.DownloadURL = p.downloadURL(payload.CourseID, payload.Mode)
	}
	logger.Info("queued publish completed")
	p.notify(ctx, logger, payload.NotifyEmail, notice)
	return nil
}

// HandleSweepScratch removes abandoned scratch folders
func (p *Processor) HandleSweepScratch(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		return fmt.Errorf("olderThan must be positive: %w", asynq.SkipRetry)
	}

	removed, err := p.publisher.SweepScratch(ctx, payload.OlderThan)
	if err != nil {
		p.logger.Error("failed to sweep scratch folders", zap.Error(err), zap.Int("removed", removed))
		return err
	}
	p.logger.Info("scratch sweep finished", zap.Int("removed", removed))
	return nil
}

func (p *Processor) notify(ctx context.Context, logger *zap.Logger, to string, notice notify.PublishNotice) {
	if p.notifier == nil || to == "" {
		return
	}
	if err := p.notifier.PublishFinished(ctx, to, notice); err != nil {
		logger.Warn("failed to notify user", zap.Error(err))
	}
}

func (p *Processor) downloadURL(courseID, mode string) string {
	return fmt.Sprintf("%s/api/v1/courses/%s/download?mode=%s", p.baseURL, url.PathEscape(courseID), url.QueryEscape(mode))
}

// permanent reports errors that a retry cannot fix
func permanent(err error) bool {
	var validation *apperr.ValidationError
	var structural *apperr.StructuralError
	var buildErr *apperr.BuildToolError
	return errors.Is(err, apperr.ErrNotFound) ||
		errors.As(err, &validation) ||
		errors.As(err, &structural) ||
		errors.As(err, &buildErr)
}

func isLastAttempt(ctx context.Context) bool {
	retried, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	return ok1 && ok2 && retried >= maxRetry
}
