package auth

import "github.com/labstack/echo/v4"

// publicPaths bypass authentication and clinic resolution.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// Skipper returns true for requests to infrastructure endpoints.
func Skipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
