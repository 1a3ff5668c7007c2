package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRoles lets a request through only when the caller role set by
// JWTMiddleware is one of the listed roles. Release, refund and the
// operator routes are guarded with it.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if role == "" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "role missing from token"})
			}
			for _, allowed := range roles {
				if role == allowed {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient role"})
		}
	}
}
