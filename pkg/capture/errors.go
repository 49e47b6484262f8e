package capture

import (
	"errors"
	"fmt"

	"github.com/3leaps/ramekin/pkg/jobregistry"
	"github.com/3leaps/ramekin/pkg/versionstore"
)

// Client errors. None of them create or change a job.
var (
	// ErrInvalidSource indicates a source descriptor failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidState indicates the job is not in a state that allows the
	// requested transition (for example retrying a job that has not failed).
	ErrInvalidState = errors.New("invalid job state")

	// ErrMissingSourceURL indicates a rescrape of a recipe whose current
	// version has no source url.
	ErrMissingSourceURL = errors.New("recipe has no source url")
)

// ErrNotFound is returned for missing jobs, recipes and versions, and for
// anything owned by someone else.
var ErrNotFound = errors.New("not found")

// ValidationError describes which part of a source was rejected.
type ValidationError struct {
	// Field is the request field at fault ("url", "html", "source_url",
	// "photo_ids", "owner_id", "content").
	Field string

	// Reason is a human-readable explanation.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidSource, e.Field, e.Reason)
}

// Unwrap exposes both ErrInvalidSource and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidSource}
	}
	return []error{ErrInvalidSource, e.Err}
}

func invalid(field, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// IsClientError reports whether err was caused by the request rather than
// the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrMissingSourceURL)
}

// IsNotFound reports whether err means the target does not exist for the
// caller.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// mapNotFound folds store-level not-found sentinels into ErrNotFound.
func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, versionstore.ErrNotFound) || errors.Is(err, jobregistry.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
