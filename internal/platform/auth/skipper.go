package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass JWT verification. Paths are echo route patterns.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/api/auth/login":     true,
	"/api/assistant/chat": true,
}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether the route pattern needs no token.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
