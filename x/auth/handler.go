package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/postbox/core"
)

// Handler is the interface for handling HTTP requests
type Handler interface {
	ValidateToken(c echo.Context) error
}

type handler struct {
	account core.AccountService
}

// NewHandler creates a new handler
func NewHandler(account core.AccountService) Handler {
	return &handler{account}
}

// ValidateToken reports the account behind an already authorized token
func (h *handler) ValidateToken(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Auth.Handler.ValidateToken")
	defer span.End()

	requester, ok := RequesterFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication token required"})
	}

	user, err := h.account.Get(ctx, requester.ID)
	if err != nil {
		span.RecordError(err)
		if errors.As(err, &core.ErrorNotFound{}) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": core.ValidateContent{Valid: true, User: user}})
}
