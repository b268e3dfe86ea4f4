package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// InfoHandler answers liveness and identity probes.
type InfoHandler struct {
	identity string
}

// NewInfoHandler creates a handler reporting identity from GET /info.
func NewInfoHandler(identity string) *InfoHandler {
	return &InfoHandler{identity: identity}
}

// Info godoc
// @Summary Server identity
// @Tags system
// @Produce json
// @Success 200 {string} string
// @Router /info [get]
func (h *InfoHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, h.identity)
}

// Healthz godoc
// @Summary Liveness probe
// @Tags system
// @Produce plain
// @Success 200 {string} string "ok"
// @Router /healthz [get]
func (h *InfoHandler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
