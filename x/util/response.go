package util

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/postbox/core"
)

// ErrorStatus maps a service error to its http status
func ErrorStatus(err error) int {
	var invalid core.ErrorInvalidArgument
	var rejected core.ErrorAuthRejected
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		return http.StatusUnauthorized
	case errors.As(err, &core.ErrorInvalidCredentials{}):
		return http.StatusUnauthorized
	case errors.As(err, &core.ErrorRecipientNotFound{}):
		return http.StatusNotFound
	case errors.As(err, &core.ErrorNotFound{}):
		return http.StatusNotFound
	case errors.As(err, &core.ErrorAlreadyDeleted{}):
		return http.StatusNotFound
	case errors.As(err, &core.ErrorPermissionDenied{}):
		return http.StatusForbidden
	case errors.As(err, &core.ErrorAlreadyExists{}):
		return http.StatusConflict
	case errors.As(err, &core.ErrorRateLimited{}):
		return http.StatusTooManyRequests
	case errors.As(err, &core.ErrorTooManyConnections{}):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorJSON writes err as an error response.
// internal errors are not disclosed
func ErrorJSON(c echo.Context, err error) error {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		return c.JSON(status, echo.Map{"status": "error", "error": "internal server error"})
	}
	return c.JSON(status, echo.Map{"status": "error", "error": err.Error()})
}
