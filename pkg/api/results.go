package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/membership"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/profiles"
	"github.com/platinummonkey/quill/pkg/result"
)

// writeFailure writes the response for a non-OK result and reports
// whether it did. OK results are left to the caller.
func writeFailure[T any](w http.ResponseWriter, logger *observability.Logger, res result.Result[T]) bool {
	switch res.Status {
	case result.StatusOK:
		return false
	case result.StatusNotFound:
		httputil.WriteNotFound(w, "not found")
	case result.StatusDenied:
		httputil.WriteDenied(w, "access denied", res.Guidance())
	default:
		writeError(w, logger, res.Err)
	}
	return true
}

// writeError maps service errors onto status codes. Anything unrecognised
// is logged and reported as a retryable 500.
func writeError(w http.ResponseWriter, logger *observability.Logger, err error) {
	var fe *httputil.FieldError
	switch {
	case errors.As(err, &fe):
		httputil.WriteValidationError(w, fe.Field, fe.Message)
	case errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrInvalidType):
		httputil.WriteValidationError(w, "file", err.Error())
	case errors.Is(err, profiles.ErrStorageDisabled):
		httputil.WriteServiceUnavailable(w, err.Error(), nil)
	case errors.Is(err, auth.ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, membership.ErrNotAdmin):
		httputil.WriteDenied(w, err.Error(), "")
	case errors.Is(err, membership.ErrUserNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, membership.ErrUnknownPlan):
		httputil.WriteValidationError(w, "plan", err.Error())
	case errors.Is(err, membership.ErrInvalidEndDate):
		httputil.WriteValidationError(w, "end_date", err.Error())
	default:
		logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
