package account

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/auth"
	"github.com/totegamma/postbox/x/util"
)

// Handler is the interface for handling HTTP requests
type Handler interface {
	Register(c echo.Context) error
	Login(c echo.Context) error
	GetProfile(c echo.Context) error
	UpdateProfile(c echo.Context) error
	ChangePassword(c echo.Context) error
}

type handler struct {
	service core.AccountService
}

// NewHandler creates a new handler
func NewHandler(service core.AccountService) Handler {
	return &handler{service}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register creates an account
func (h *handler) Register(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Account.Handler.Register")
	defer span.End()

	var request core.RegisterInput
	err := c.Bind(&request)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
	}

	user, token, err := h.service.Register(ctx, request)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"status": "ok", "content": core.AuthContent{User: user, Token: token}})
}

// Login issues a session token
func (h *handler) Login(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Account.Handler.Login")
	defer span.End()

	var request loginRequest
	err := c.Bind(&request)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
	}

	user, token, err := h.service.Login(ctx, request.Email, request.Password)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": core.AuthContent{User: user, Token: token}})
}

// GetProfile returns the requester's account
func (h *handler) GetProfile(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Account.Handler.GetProfile")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	user, err := h.service.Get(ctx, requester.ID)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": user})
}

// UpdateProfile changes the requester's names
func (h *handler) UpdateProfile(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Account.Handler.UpdateProfile")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	var request core.ProfileUpdate
	err := c.Bind(&request)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
	}

	user, err := h.service.UpdateProfile(ctx, requester.ID, request)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": user})
}

// ChangePassword replaces the requester's password
func (h *handler) ChangePassword(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "Account.Handler.ChangePassword")
	defer span.End()

	requester, _ := auth.RequesterFromContext(c)

	var request changePasswordRequest
	err := c.Bind(&request)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request", "message": err.Error()})
	}

	err = h.service.ChangePassword(ctx, requester.ID, request.CurrentPassword, request.NewPassword)
	if err != nil {
		span.RecordError(err)
		return util.ErrorJSON(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
