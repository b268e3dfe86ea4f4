package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"usersvc/internal/errors"
	"usersvc/internal/model"
	"usersvc/internal/service"
)

// UserHandler bundles HTTP handlers.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a handler layer.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// errorResponse turns a service error into the HTTP error echo renders.
func errorResponse(err error) *echo.HTTPError {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse()).SetInternal(err)
}

func invalidBody() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: "invalid request body",
		Code:  "INVALID_BODY",
	})
}

func missingID() *echo.HTTPError {
	return errorResponse(errors.NewValidationError("id: field required"))
}

// CreateUser godoc
// @Summary Create user
// @Tags users
// @Accept json
// @Produce json
// @Param user body model.User true "User payload"
// @Success 200 {string} string "id of the new user"
// @Failure 400 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users [post]
func (h *UserHandler) CreateUser(c echo.Context) error {
	var user model.User
	if err := c.Bind(&user); err != nil {
		return invalidBody()
	}
	// ids are assigned by the store
	user.ID = ""
	if err := c.Validate(&user); err != nil {
		return errorResponse(err)
	}
	id, err := h.svc.CreateUser(c.Request().Context(), &user)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, id)
}

// ReadUsers godoc
// @Summary Get a user by id, or list every user
// @Tags users
// @Produce json
// @Param id query string false "User ID"
// @Success 200 {object} model.UserCollection "without id"
// @Success 200 {object} model.User "with id"
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /users/ [get]
func (h *UserHandler) ReadUsers(c echo.Context) error {
	ctx := c.Request().Context()
	if id := c.QueryParam("id"); id != "" {
		user, err := h.svc.GetUser(ctx, id)
		if err != nil {
			return errorResponse(err)
		}
		return c.JSON(http.StatusOK, user.Public())
	}

	users, err := h.svc.ListUsers(ctx)
	if err != nil {
		return errorResponse(err)
	}
	out := model.UserCollection{Users: make([]model.User, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, u.Public())
	}
	return c.JSON(http.StatusOK, out)
}

// GetUserByUsername godoc
// @Summary Get user by username
// @Tags users
// @Produce json
// @Param username path string true "Username"
// @Success 200 {object} model.User
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{username} [get]
func (h *UserHandler) GetUserByUsername(c echo.Context) error {
	user, err := h.svc.GetUserByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, user.Public())
}

// UpdateUser godoc
// @Summary Update user by username
// @Tags users
// @Accept json
// @Produce json
// @Param username path string true "Username"
// @Param update body model.UserUpdate true "Fields to change"
// @Success 200 {integer} int "modified count"
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Router /users/{username} [put]
func (h *UserHandler) UpdateUser(c echo.Context) error {
	var update model.UserUpdate
	if err := c.Bind(&update); err != nil {
		return invalidBody()
	}
	n, err := h.svc.UpdateUser(c.Request().Context(), c.Param("username"), update)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, n)
}

// UpdateUserByID godoc
// @Summary Update user by id
// @Tags users
// @Accept json
// @Produce json
// @Param id query string true "User ID"
// @Param update body model.UserUpdate true "Fields to change"
// @Success 200 {integer} int "modified count"
// @Failure 404 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Router /users/ [put]
func (h *UserHandler) UpdateUserByID(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return missingID()
	}
	var update model.UserUpdate
	if err := c.Bind(&update); err != nil {
		return invalidBody()
	}
	n, err := h.svc.UpdateUserByID(c.Request().Context(), id, update)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, n)
}

// DeleteUser godoc
// @Summary Delete user by username
// @Description The username "all" deletes every user except the admin.
// @Tags users
// @Produce json
// @Param username path string true "Username"
// @Success 200 {integer} int "deleted count"
// @Failure 404 {object} errors.ErrorResponse
// @Router /users/{username} [delete]
func (h *UserHandler) DeleteUser(c echo.Context) error {
	n, err := h.svc.DeleteUser(c.Request().Context(), c.Param("username"))
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, n)
}

// DeleteUserByID godoc
// @Summary Delete user by id
// @Tags users
// @Produce json
// @Param id query string true "User ID"
// @Success 200 {integer} int "deleted count"
// @Failure 404 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Router /users/ [delete]
func (h *UserHandler) DeleteUserByID(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return missingID()
	}
	n, err := h.svc.DeleteUserByID(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, n)
}
