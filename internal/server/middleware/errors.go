// Package middleware provides HTTP middleware for the ramekin server.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/internal/observability"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body written for recovered panics.
type ErrorResponse struct {
	Error struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		RequestID string                 `json:"request_id,omitempty"`
		Details   map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// Recovery converts panics into a 500 JSON error response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := r.Header.Get(apperrors.RequestIDHeader)
			observability.CLILogger.Error("panic recovered",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
			)

			appErr := apperrors.New(apperrors.CodeInternal, http.StatusInternalServerError, fmt.Sprintf("panic: %v", rec))
			writeErrorResponse(w, appErr, requestID, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, appErr *apperrors.AppError, requestID string, status int) {
	var resp ErrorResponse
	resp.Error.Code = appErr.Code
	resp.Error.Message = appErr.Message
	resp.Error.RequestID = requestID
	resp.Error.Details = appErr.Details

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
