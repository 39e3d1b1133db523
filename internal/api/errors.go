package api

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"simjur/internal/auth"
	"simjur/internal/simjur"
)

var (
	errMissingToken = echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed token")
	errTooManyTries = echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts, try again later")
	errNoClaims     = errors.New("claims not found in echo.Context")
)

// statusErrors maps domain errors to a status and a machine readable code.
var statusErrors = []struct {
	err  error
	code int
	name string
}{
	{auth.ErrAccountDeactivated, http.StatusForbidden, "account_deactivated"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{auth.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
	{auth.ErrRefreshExpired, http.StatusUnauthorized, "refresh_expired"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{simjur.ErrForbidden, http.StatusForbidden, "forbidden"},
	{simjur.ErrNotFound, http.StatusNotFound, "not_found"},
	{simjur.ErrFileMissing, http.StatusGone, "file_missing"},
	{simjur.ErrStageLocked, http.StatusConflict, "stage_locked"},
	{simjur.ErrLadderClosed, http.StatusConflict, "ladder_closed"},
	{simjur.ErrSlotLocked, http.StatusConflict, "slot_locked"},
	{simjur.ErrSlotNotPending, http.StatusConflict, "slot_not_pending"},
	{simjur.ErrNotReviewed, http.StatusConflict, "not_reviewed"},
	{simjur.ErrResubmitDisabled, http.StatusConflict, "resubmit_disabled"},
	{simjur.ErrNothingToResubmit, http.StatusConflict, "nothing_to_resubmit"},
}

// newHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how to
// handle our errors. Unknown errors are logged and answered with 500.
func newHTTPErrorHandler(logger simjur.Logger, translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator)
		if code == http.StatusInternalServerError {
			fields := []any{"method", ctx.Request().Method, "path", ctx.Path(), "error", err}
			if claims, cErr := contextClaims(ctx); cErr == nil {
				fields = append(fields, "user", claims.Username)
			}
			logger.Error(http.StatusText(code), fields...)
		}

		if ctx.Echo().Debug {
			message = echo.Map{"error": err.Error()}
		}

		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				logger.Error("writing error response", "error", err)
			}
		}
	}
}

func errorResponse(err error, translator ut.Translator) (int, any) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		if m, ok := httpErr.Message.(string); ok {
			return httpErr.Code, echo.Map{"error": m}
		}
		return httpErr.Code, httpErr.Message
	}

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		fields := make(map[string]string, len(vErrs))
		for _, vErr := range vErrs {
			fields[vErr.Field()] = vErr.Translate(translator)
		}
		return http.StatusBadRequest, fields
	}

	var verr *simjur.ValidationError
	if errors.As(err, &verr) {
		if len(verr.Fields) == 0 {
			return http.StatusBadRequest, echo.Map{"error": verr.Error()}
		}
		fields := make(map[string]string, len(verr.Fields))
		for _, f := range verr.Fields {
			fields[f.Field] = f.Error
		}
		return http.StatusBadRequest, fields
	}

	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.code, echo.Map{"error": se.err.Error(), "code": se.name}
		}
	}

	return http.StatusInternalServerError, echo.Map{"error": http.StatusText(http.StatusInternalServerError)}
}
