package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/postbox/core"
)

// IdentifyIdentity authorizes the bearer token if the request carries one.
// requests without the header pass through as Unknown
func (s *service) IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Service.IdentifyIdentity")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")
		if authHeader != "" {
			token, ok := ExtractBearer(authHeader)
			if !ok {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error":  "invalid authorization header",
					"detail": "only Bearer is acceptable",
				})
			}

			identity, err := s.Authorize(ctx, token)
			if err != nil {
				span.RecordError(err)
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error":  "invalid token",
					"detail": rejectDetail(err),
				})
			}

			c.Set(core.RequesterTypeCtxKey, core.LocalUser)
			c.Set(core.RequesterIdCtxKey, identity.ID)
			c.Set(core.RequesterEmailCtxKey, identity.Email)
			span.SetAttributes(attribute.String("RequesterType", core.RequesterTypeString(core.LocalUser)))
			span.SetAttributes(attribute.String("RequesterId", identity.ID))
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// Restrict rejects requests whose requester does not satisfy principal
func Restrict(principal Principal) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(), "Auth.Restrict")
			defer span.End()

			requesterType, _ := c.Get(core.RequesterTypeCtxKey).(int)

			switch principal {
			case ISKNOWN:
				if requesterType != core.LocalUser {
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error":  "you are not authorized to perform this action",
						"detail": "authentication token required",
					})
				}
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequesterFromContext returns the identity set by IdentifyIdentity
func RequesterFromContext(c echo.Context) (core.Identity, bool) {
	id, ok := c.Get(core.RequesterIdCtxKey).(string)
	if !ok || id == "" {
		return core.Identity{}, false
	}
	email, _ := c.Get(core.RequesterEmailCtxKey).(string)
	return core.Identity{ID: id, Email: email}, true
}

func rejectDetail(err error) string {
	var rejected core.ErrorAuthRejected
	if errors.As(err, &rejected) {
		return rejected.Reason.String()
	}
	return "unknown"
}
