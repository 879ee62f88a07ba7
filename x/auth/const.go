package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/postbox/core"
)

type Principal int

const (
	ISKNOWN Principal = iota
)

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header value
func ExtractBearer(header string) (string, bool) {
	split := strings.Split(header, " ")
	if len(split) != 2 {
		return "", false
	}

	authType, token := split[0], split[1]
	if !strings.EqualFold(authType, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}

// ExtractUpgradeToken returns the token carried by a channel upgrade request.
// the query parameter wins over the header. empty when neither is present
func ExtractUpgradeToken(c echo.Context) string {
	if token := c.QueryParam(core.TokenQueryParam); token != "" {
		return token
	}
	if token, ok := ExtractBearer(c.Request().Header.Get("authorization")); ok {
		return token
	}
	return ""
}
