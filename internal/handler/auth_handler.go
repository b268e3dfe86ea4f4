package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"usersvc/internal/model"
	"usersvc/internal/service"
)

// AuthHandler handles credential checks.
type AuthHandler struct {
	svc service.UserService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc service.UserService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Authenticate godoc
// @Summary Authenticate a user
// @Description Returns the user whose credentials match. No token is issued.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.UserAuth true "Credentials"
// @Success 200 {object} model.User
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Router /users/authenticate [post]
func (h *AuthHandler) Authenticate(c echo.Context) error {
	var req model.UserAuth
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(err)
	}

	user, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, user.Public())
}
