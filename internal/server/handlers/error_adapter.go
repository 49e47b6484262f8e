package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/3leaps/ramekin/internal/errors"
	"github.com/3leaps/ramekin/pkg/capture"
)

// httpErrorResponder renders handler errors. Tests swap it out.
var httpErrorResponder = defaultErrorResponder

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// RespondWithError renders err with the active responder. It is exported
// for chi's NotFound and MethodNotAllowed hooks.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	respondWithError(w, r, err)
}

func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, toAppError(err))
}

// toAppError maps capture errors onto HTTP error codes.
func toAppError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verr *capture.ValidationError
	switch {
	case errors.As(err, &verr):
		return apperrors.Wrap(err, apperrors.CodeInvalidSource, http.StatusBadRequest, verr.Error()).
			WithDetails(map[string]interface{}{"field": verr.Field, "reason": verr.Reason})
	case errors.Is(err, capture.ErrInvalidSource):
		return apperrors.Wrap(err, apperrors.CodeInvalidSource, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrInvalidState):
		return apperrors.Wrap(err, apperrors.CodeInvalidState, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrMissingSourceURL):
		return apperrors.Wrap(err, apperrors.CodeMissingSourceURL, http.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrNotFound):
		return apperrors.Wrap(err, apperrors.CodeNotFound, http.StatusNotFound, "not found")
	}
	return err
}
