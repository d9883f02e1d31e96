package middleware

// identity.go provides the userID lookup shared by the rate limiter.
// It reads the user_id value JWTAuth stored in the Echo context and
// falls back to "anon" for unauthenticated requests (the webhook
// endpoint, health checks).

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// currentUserID returns a stable string identity for the requester.
func currentUserID(c echo.Context) string {
	v := c.Get("user_id")
	if v == nil {
		return "anon"
	}
	switch t := v.(type) {
	case string:
		if t != "" {
			return t
		}
	case float64:
		return fmt.Sprintf("%.0f", t)
	case uint64:
		return fmt.Sprintf("%d", t)
	}
	return "anon"
}
