package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	denied := "required role: " + strings.Join(names, " or ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, denied)
		}
	}
}
