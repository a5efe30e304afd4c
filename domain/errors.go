package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// write because a newer version of an entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError reports a missing or malformed client supplied field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFoundError is returned for unknown ids and ids owned by another user.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("task %s not found", e.TaskID) }

// InvalidStageError is returned for stages outside the board or when a
// reorder names a stage the task is not in.
type InvalidStageError struct {
	Stage  Stage
	Reason string
}

func (e *InvalidStageError) Error() string {
	if e.Reason != "" {
		return "invalid stage: " + e.Reason
	}
	return fmt.Sprintf("invalid stage %d", int(e.Stage))
}

// StaleIndexError is returned when a reorder names the rank the caller
// saw and the task has since moved within its stage.
type StaleIndexError struct {
	TaskID string
	Index  int
	Rank   int
}

func (e *StaleIndexError) Error() string {
	return fmt.Sprintf("task %s is at index %d, not %d", e.TaskID, e.Rank, e.Index)
}

// StoreUnavailableError wraps a persistence failure.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
