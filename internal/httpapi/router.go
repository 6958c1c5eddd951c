package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer returns an Echo instance with the ingestion endpoint and a
// liveness probe mounted. Middleware mirrors what a single-binary
// service needs: request recovery so a handler panic becomes a 500
// instead of killing the process.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	h.Register(e)

	return e
}
