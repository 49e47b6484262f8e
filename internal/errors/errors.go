// Package errors defines application errors and their HTTP envelope.
//
// Handlers return *AppError values; RespondWithError renders any error as
//
//	{"error":{"code":"...","message":"...","request_id":"...","details":{...}}}
//
// Errors that are not *AppError are reported as INTERNAL_ERROR without
// leaking their message.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidSource    = "INVALID_SOURCE"
	CodeInvalidState     = "INVALID_STATE"
	CodeMissingSourceURL = "MISSING_SOURCE_URL"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeServiceUnavail   = "SERVICE_UNAVAILABLE"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates an AppError.
func New(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// Wrap creates an AppError around err.
func Wrap(err error, code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message, Err: err}
}

func NewBadRequest(message string) *AppError {
	return New(CodeBadRequest, http.StatusBadRequest, message)
}

func NewUnauthorized(message string) *AppError {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

func NewNotFound(message string) *AppError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

func NewMethodNotAllowed(message string) *AppError {
	return New(CodeMethodNotAllowed, http.StatusMethodNotAllowed, message)
}

func NewServiceUnavailable(message string) *AppError {
	return New(CodeServiceUnavail, http.StatusServiceUnavailable, message)
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(message string) *AppError {
	return New(CodeExternalService, http.StatusBadGateway, message)
}

// WrapInternal wraps an unexpected failure. The message is shown to the
// caller; err is kept for logs.
func WrapInternal(_ context.Context, err error, message string) *AppError {
	return Wrap(err, CodeInternal, http.StatusInternalServerError, message)
}

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the body of the envelope.
type HTTPError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FromError converts err to an AppError, hiding the message of unknown
// errors.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternal, http.StatusInternalServerError, "internal server error")
}

// RespondWithError writes err as a JSON envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	requestID := ""
	if r != nil {
		requestID = r.Header.Get(RequestIDHeader)
	}
	WriteJSON(w, appErr.Status, HTTPErrorResponse{Error: HTTPError{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
		Details:   appErr.Details,
	}})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
