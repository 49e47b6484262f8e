package photostore

import (
	"errors"
	"fmt"
)

// Sentinel errors for photo store operations.
var (
	// ErrNotFound indicates the photo does not exist for this owner.
	ErrNotFound = errors.New("photo not found")

	// ErrAccessDenied indicates the backend refused the request.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnavailable indicates the backend is temporarily unavailable.
	ErrUnavailable = errors.New("photo store unavailable")

	// ErrTooLarge indicates the photo exceeds MaxPhotoBytes.
	ErrTooLarge = errors.New("photo too large")
)

// Error wraps backend errors with context.
type Error struct {
	// Op is the operation that failed (e.g., "Get", "Head").
	Op string

	// Backend is the store type (e.g., "s3").
	Backend Backend

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing photo.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
