package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInput marks malformed or unreadable input. Never retried.
	ErrInput = errors.New("input error")
	// ErrTransient marks a failure that may succeed on retry.
	ErrTransient = errors.New("transient executor error")
	// ErrResourceExhausted marks a quota or capacity limit. The unit is
	// re-queued after a backoff without consuming its retry budget.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrPermanent marks an executor failure that will not succeed on retry.
	ErrPermanent = errors.New("permanent executor error")
	// ErrStateConflict marks an operation that is not allowed in the current job state.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound marks an unknown job, slide or artifact.
	ErrNotFound = errors.New("not found")
	// ErrNotReady marks a result that is not available yet.
	ErrNotReady = errors.New("not ready")
	// ErrInvalidArgument marks a bad caller argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind classifies an error for retry policy and status reporting.
type ErrorKind string

const (
	KindInput             ErrorKind = "input"
	KindTransient         ErrorKind = "transient"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindPermanent         ErrorKind = "permanent"
	KindStateConflict     ErrorKind = "state_conflict"
	KindNotFound          ErrorKind = "not_found"
	KindNotReady          ErrorKind = "not_ready"
	KindInvalidArgument   ErrorKind = "invalid_argument"
)

// Wrap builds an error carrying stage context, tagged with marker for
// later classification. A nil marker is treated as transient.
func Wrap(marker error, stage Stage, operation, message string, err error) error {
	detail := buildDetail(string(stage), operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err. Unclassified errors and deadline expiry are transient.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return KindInput
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindTransient
	}
}

// StageError is the persisted summary of a unit failure.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Slide   int       `json:"slide"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Error implements error.
func (e *StageError) Error() string {
	if e.Slide == JobSlide {
		return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Message)
	}
	return fmt.Sprintf("slide %d %s failed (%s): %s", e.Slide, e.Stage, e.Kind, e.Message)
}

// NewStageError summarizes err for the unit.
func NewStageError(u Unit, err error, at time.Time) *StageError {
	return &StageError{
		Kind:    KindOf(err),
		Stage:   u.Stage,
		Slide:   u.Slide,
		Message: err.Error(),
		At:      at,
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
