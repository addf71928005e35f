package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sehwan505/uos-ticket-reservation/internal/service"
)

// Sweeps runs and reports the expiration sweeper.  service.Sweeper
// implements it.
type Sweeps interface {
	RunOnce(ctx context.Context) (int, error)
	Stats() service.SweeperStats
}

// AdminHandler exposes operator endpoints.
type AdminHandler struct {
	Sweeper Sweeps
}

// NewAdminHandler panics if sweeper is nil.
func NewAdminHandler(sweeper Sweeps) *AdminHandler {
	if sweeper == nil {
		panic("nil sweeper passed to NewAdminHandler")
	}
	return &AdminHandler{Sweeper: sweeper}
}

// RunSweep handles POST /v1/admin/sweeps.
func (h *AdminHandler) RunSweep(c echo.Context) error {
	n, err := h.Sweeper.RunOnce(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n, "stats": h.Sweeper.Stats()})
}

// SweeperStats handles GET /v1/admin/sweeper.
func (h *AdminHandler) SweeperStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Sweeper.Stats())
}
