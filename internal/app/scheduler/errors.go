package scheduler

import (
	"fmt"

	"novacore/internal/errors"
)

// Code is a stable, user-visible rejection code for enqueue failures.
type Code string

const (
	CodeQueueFull  Code = "queue_full"
	CodeQueueStale Code = "queue_stale"
	CodeSuperseded Code = "superseded"
	CodeInvalidJob Code = "invalid_job"
)

// RejectError is returned by Enqueue when a job cannot run. It wraps a
// MissionError so callers can errors.As into the shared mission error
// taxonomy while still pattern-matching on the scheduler's own Code.
type RejectError struct {
	Code         Code
	Message      string
	RetryAfterMs int
	cause        *errors.MissionError
}

func (e *RejectError) Error() string {
	if e.RetryAfterMs > 0 {
		return fmt.Sprintf("%s (retry after %dms)", e.cause.Error(), e.RetryAfterMs)
	}
	return e.cause.Error()
}

func (e *RejectError) Unwrap() error {
	return e.cause
}

func reject(code Code, retryAfterMs int, format string, args ...any) *RejectError {
	msg := fmt.Sprintf(format, args...)
	return &RejectError{
		Code:         code,
		Message:      msg,
		RetryAfterMs: retryAfterMs,
		cause:        errors.NewMissionError(string(code), msg),
	}
}
