// Package router registers the HTTP routes of the reservation API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/sehwan505/uos-ticket-reservation/internal/handler"
	"github.com/sehwan505/uos-ticket-reservation/internal/middleware"
	"github.com/sehwan505/uos-ticket-reservation/internal/utils"
)

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterReservations registers the booking endpoints.  Bearer tokens are
// optional so non-members can book and manage reservations with their
// phone number and PIN.  limiter wraps the booking endpoint only.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.OptionalJWT(jwtSecret))
	g.GET("/screenings/:id/active-seats", h.ActiveSeats)
	g.POST("/screenings/:id/seats/:seatId/reservations", h.Book, limiter)
	g.GET("/reservations/:id", h.Get)
	g.DELETE("/reservations/:id", h.Cancel)
	g.POST("/reservations/:id/issue", h.Issue)

	me := e.Group("/v1/me", middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleMember, utils.RoleAdmin))
	me.GET("/points", h.MyPoints)
}

// RegisterAdmin registers operator endpoints behind the ADMIN role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin))
	g.POST("/sweeps", h.RunSweep)
	g.GET("/sweeper", h.SweeperStats)
}
