// Package middleware holds the echo middleware of the reservation API:
// bearer authentication, role checks, request logging and rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sehwan505/uos-ticket-reservation/internal/utils"
)

// Context keys set by JWTAuth and OptionalJWT.
const (
	MemberIDKey = "member_id"
	RoleKey     = "role"
)

// JWTAuth returns a middleware that requires a valid Bearer access token
// and stores its member id and role in the context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			setClaims(c, claims)
			return next(c)
		}
	}
}

// OptionalJWT lets anonymous requests through so non-members can book
// with a phone number.  A token that is present must still be valid.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return next(c)
			}
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			setClaims(c, claims)
			return next(c)
		}
	}
}

func bearer(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return raw, raw != ""
}

func setClaims(c echo.Context, claims utils.Claims) {
	c.Set(MemberIDKey, claims.MemberID)
	c.Set(RoleKey, claims.Role)
}

// MemberID returns the authenticated member id, if any.
func MemberID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(MemberIDKey).(uint64)
	return id, ok && id != 0
}

// IsAdmin reports whether the caller carries an admin token.
func IsAdmin(c echo.Context) bool {
	role, _ := c.Get(RoleKey).(string)
	return role == utils.RoleAdmin
}
