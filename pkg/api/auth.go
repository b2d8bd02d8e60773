package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// identityHeader carries the caller's opaque user id. Verification happens
// upstream (gateway or proxy); the service only scopes data by the value.
const identityHeader = "X-User-ID"

// callerID returns the presented identity, or empty when the request is
// anonymous. Browser WebSocket handshakes cannot set custom headers, so the
// "user" query parameter is accepted as a fallback.
func callerID(c *echo.Context) string {
	if v := strings.TrimSpace(c.Request().Header.Get(identityHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(c.QueryParam("user"))
}

// identity resolves the effective owner id for the request, falling back to
// the shared anonymous owner.
func identity(c *echo.Context) string {
	if v := callerID(c); v != "" {
		return v
	}
	return itinerary.AnonymousOwner
}

// requireIdentity rejects anonymous requests. Enabled by server.auth_required.
func requireIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if callerID(c) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "identity is required")
			}
			return next(c)
		}
	}
}
