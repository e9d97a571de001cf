package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotActive       = errors.New("attempt is not active")
	ErrUnknownQuestion = errors.New("question is not part of this attempt")
	ErrInvalidAnswer   = errors.New("answer does not fit the question type")
	ErrOutOfRange      = errors.New("question index out of range")
	ErrNoConfirmation  = errors.New("submission was not requested")
	ErrNoQuestions     = errors.New("attempt has no questions")
	ErrResultPending   = errors.New("result is still being evaluated")
	ErrResultWithheld  = errors.New("result is withheld")
	ErrClosed          = errors.New("engine closed")

	// ErrRejected marks a store reply that a retry cannot change, such as a
	// validation failure. Store adapters wrap it; answer syncs stop on it.
	ErrRejected = errors.New("store rejected the request")
)

// LoadError is terminal: the attempt could not be loaded.
type LoadError struct {
	AttemptID string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load attempt %s: %v", e.AttemptID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SyncError reports an answer write that failed after all retries. Local state
// is kept; the error is informational.
type SyncError struct {
	QuestionID string
	Attempts   int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync answer %s after %d attempt(s): %v", e.QuestionID, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SubmitError reports a failed submit call. For manual submission the attempt
// is back in Active and the user may retry.
type SubmitError struct {
	Trigger SubmitTrigger
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit (%s): %v", e.Trigger, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
