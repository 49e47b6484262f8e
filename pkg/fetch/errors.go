package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors for fetch operations.
var (
	// ErrInvalidURL indicates the URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrDisallowedHost indicates the URL host is not on the allowlist.
	ErrDisallowedHost = errors.New("host not allowed")

	// ErrTimeout indicates the fetch exceeded its time budget.
	ErrTimeout = errors.New("fetch timed out")

	// ErrHTTPStatus indicates the server answered with a non-2xx status.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrNetwork indicates a transport failure (DNS, connect, reset).
	ErrNetwork = errors.New("network error")

	// ErrTooLarge indicates the response body exceeded the size limit.
	ErrTooLarge = errors.New("response body too large")
)

// Error wraps fetch failures with the URL and, for status errors, the code.
type Error struct {
	// URL is the requested URL.
	URL string

	// StatusCode is set when Err is ErrHTTPStatus.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %v: %d", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the fetch ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDisallowedHost returns true if the URL host is not allowed.
func IsDisallowedHost(err error) bool {
	return errors.Is(err, ErrDisallowedHost)
}

// IsHTTPStatus returns true if the server answered with a non-2xx status.
func IsHTTPStatus(err error) bool {
	return errors.Is(err, ErrHTTPStatus)
}
