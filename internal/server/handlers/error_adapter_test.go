package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/pkg/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithErrorUsesActiveResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	var captured error
	httpErrorResponder = func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	}

	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil), capture.ErrNotFound)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, captured, capture.ErrNotFound)
}

func TestDefaultResponderMapsCaptureErrors(t *testing.T) {

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &capture.ValidationError{Field: "url", Reason: "host is not on the allowlist"}, http.StatusBadRequest, "INVALID_SOURCE"},
		{"invalid state", fmt.Errorf("retry job: %w", capture.ErrInvalidState), http.StatusBadRequest, "INVALID_STATE"},
		{"missing source url", capture.ErrMissingSourceURL, http.StatusBadRequest, "MISSING_SOURCE_URL"},
		{"not found", fmt.Errorf("job x: %w", capture.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"app error passes through", apperrors.NewUnauthorized("no owner"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondWithError(rec, httptest.NewRequest("GET", "/test", nil), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

func TestValidationErrorDetails(t *testing.T) {

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest("POST", "/api/scrape", nil),
		&capture.ValidationError{Field: "url", Reason: "url is required"})

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "url", body.Error.Details["field"])
	assert.Equal(t, "url is required", body.Error.Details["reason"])
}
