package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the group has an active run.
	ErrAlreadyRunning = errors.New("group already running")
	// ErrNotRunning is returned by Cancel when the group has no active run.
	ErrNotRunning = errors.New("group not running")
	// ErrCancelled is the cause recorded on runs stopped by Cancel or Shutdown.
	ErrCancelled = errors.New("run cancelled")
)

// ValidationError reports input that prevents a run from starting at all.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// PersonalizationError reports recipient data the renderer cannot personalize.
// It fails that recipient only.
type PersonalizationError struct {
	SourceURL string
	Msg       string
}

func (e *PersonalizationError) Error() string {
	return fmt.Sprintf("personalization: %s (source url %q)", e.Msg, e.SourceURL)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
