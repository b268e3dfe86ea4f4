package model

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "usersvc/internal/errors"
)

// User is the sole entity of the service.
type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password,omitempty" validate:"required,max=72"`
	Admin    bool   `json:"admin"`
}

// NewUser builds a validated User.
func NewUser(username, password string, admin bool) (*User, error) {
	u := &User{Username: username, Password: password, Admin: admin}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate checks the fields a client must supply at creation.
func (u *User) Validate() error {
	return Validate(u)
}

// Public returns a copy of the user safe to send to clients.
func (u User) Public() User {
	u.Password = ""
	return u
}

// UserUpdate carries the fields a client may change. Nil fields are left
// untouched.
type UserUpdate struct {
	Password *string `json:"password,omitempty" validate:"omitempty,min=1,max=72"`
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Password == nil
}

// UserAuth is the body of an authentication request.
type UserAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserCollection is the list response envelope.
type UserCollection struct {
	Users []User `json:"users"`
}

// UserQuery selects users by exact match. Each field is either present or
// absent; absent fields do not constrain the result.
type UserQuery struct {
	ID       *string
	Username *string
	Password *string
}

// ByUsername returns a query matching one username.
func ByUsername(username string) UserQuery {
	return UserQuery{Username: &username}
}

// ByID returns a query matching one id.
func ByID(id string) UserQuery {
	return UserQuery{ID: &id}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate runs the struct validation rules of v and reports every failing
// field in a single *errors.ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationError(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return apperrors.NewValidationError(problems...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: field required", fe.Field())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
}
