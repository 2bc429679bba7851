// Package apperr defines the error types shared by duplication and publishing
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError
	ErrNotFound = errors.New("not found")
	// ErrPublishInProgress is returned when another publish of the same course holds the lock
	ErrPublishInProgress = errors.New("publish already in progress")
)

// NotFoundError reports a missing course, entity, asset, plugin or template
type NotFoundError struct {
	Kind string
	ID   string
}

// NotFound creates a NotFoundError
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) true for every NotFoundError
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StructuralError reports a required nested attribute that is missing or malformed
type StructuralError struct {
	Kind     string
	EntityID string
	Path     string
	Reason   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("malformed %s %s: %s %s", e.Kind, e.EntityID, e.Path, e.Reason)
}

// DetachedEntityError lists entities left out of a duplicate because their parent was not cloned.
// It is returned together with a successful result.
type DetachedEntityError struct {
	Entities map[string][]string
}

// Count returns the number of detached entities
func (e *DetachedEntityError) Count() int {
	n := 0
	for _, ids := range e.Entities {
		n += len(ids)
	}
	return n
}

func (e *DetachedEntityError) Error() string {
	kinds := make([]string, 0, len(e.Entities))
	for kind := range e.Entities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s: %s", kind, strings.Join(e.Entities[kind], ", ")))
	}
	return fmt.Sprintf("%d entities detached from the duplicate (%s)", e.Count(), strings.Join(parts, "; "))
}

// BuildToolError reports a failed static-site build
type BuildToolError struct {
	ExitCode int
	Excerpt  string
	Forced   bool
	Err      error
}

func (e *BuildToolError) Error() string {
	msg := fmt.Sprintf("build tool failed with exit code %d", e.ExitCode)
	if e.Forced {
		msg = "forced rebuild failed: " + msg
	}
	if e.Excerpt != "" {
		msg += ": " + e.Excerpt
	}
	return msg
}

func (e *BuildToolError) Unwrap() error {
	return e.Err
}

// IOError reports a failed filesystem or asset store operation
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ValidationError lists the problems found while validating assembled course content
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "course validation failed: " + strings.Join(e.Problems, "; ")
}

// StageError names the publish stage that aborted the pipeline
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("publish stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
