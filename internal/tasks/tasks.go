// Package tasks defines the background jobs of the authoring backend and their handlers
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypePublishCourse = "publish:course"
	TypeSweepScratch  = "maintenance:sweep-scratch"
)

// Queue names
const (
	QueuePublish     = "publish"
	QueueMaintenance = "maintenance"
)

// Queues maps each queue to its processing priority
var Queues = map[string]int{
	QueuePublish:     5,
	QueueMaintenance: 1,
}

// PublishPayload is the payload of a publish:course task
type PublishPayload struct {
	CourseID    string `json:"courseId"`
	Mode        string `json:"mode"`
	Force       bool   `json:"force,omitempty"`
	SourceMaps  bool   `json:"sourceMaps,omitempty"`
	UserID      string `json:"userId"`
	NotifyEmail string `json:"notifyEmail,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

// SweepPayload is the payload of a maintenance:sweep-scratch task
type SweepPayload struct {
	OlderThan time.Duration `json:"olderThan"`
}

// NewPublishTask creates a publish:course task
func NewPublishTask(p PublishPayload, timeout time.Duration) (*asynq.Task, error) {
	if p.CourseID == "" {
		return nil, fmt.Errorf("course id is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode publish payload: %w", err)
	}
	return asynq.NewTask(TypePublishCourse, payload,
		asynq.Queue(QueuePublish),
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
	), nil
}

// NewSweepTask creates a maintenance:sweep-scratch task
func NewSweepTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sweep payload: %w", err)
	}
	return asynq.NewTask(TypeSweepScratch, payload,
		asynq.Queue(QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Unique(time.Hour),
	), nil
}

// Enqueuer is the interface that wraps task submission; *asynq.Client implements it
type Enqueuer interface {
	// Method EnqueueContext submits a task to the queue.
	//
	// If the task cannot be enqueued, the error will be returned together with "nil" value.
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher enqueues background jobs
type Dispatcher struct {
	client  Enqueuer
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds a single publish job.
func NewDispatcher(client Enqueuer, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client:  client,
		timeout: timeout,
	}
}

// EnqueuePublish queues a publish job and returns its task id
func (d *Dispatcher) EnqueuePublish(ctx context.Context, p PublishPayload) (string, error) {
	task, err := NewPublishTask(p, d.timeout)
	if err != nil {
		return "", err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue publish: %w", err)
	}
	return info.ID, nil
}

// EnqueueSweep queues a scratch sweep and returns its task id
func (d *Dispatcher) EnqueueSweep(ctx context.Context, olderThan time.Duration) (string, error) {
	task, err := NewSweepTask(olderThan)
	if err != nil {
		return "", err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue sweep: %w", err)
	}
	return info.ID, nil
}
