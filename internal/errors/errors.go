package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when a username is already taken.
	ErrConflict = errors.New("username already taken")
	// ErrReservedUsername is returned when a client tries to create a user named "all".
	ErrReservedUsername = errors.New("username 'all' is reserved")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication is returned when credentials do not match a user.
	ErrAuthentication = errors.New("authentication failed")
	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage failure")
	// ErrCorruptDocument is matched by a *ValidationError raised while
	// decoding a stored record rather than client input.
	ErrCorruptDocument = errors.New("stored record is invalid")
)

// ValidationError lists every problem found in an input or stored document.
// Stored is set when the document came from the store.
type ValidationError struct {
	Problems []string
	Stored   bool
}

// NewValidationError builds a ValidationError from a list of problems.
func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// NewStoredValidationError reports a stored document that does not decode
// into a valid record.
func NewStoredValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems, Stored: true}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Is makes errors.Is(err, ErrValidation) true, and errors.Is(err,
// ErrCorruptDocument) true for stored documents.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.Stored && target == ErrCorruptDocument)
}

// StorageError wraps a failure of the underlying document store.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err as a storage failure of operation op.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Error(), e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) true.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Storage failures and
// unknown errors never leak their cause to the client.
func MapErrorToHTTP(err error) *HTTPError {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrCorruptDocument):
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	case errors.Is(err, ErrNotFound):
		return NewHTTPError(http.StatusNotFound, ErrNotFound.Error(), "USER_NOT_FOUND")
	case errors.Is(err, ErrConflict):
		return NewHTTPError(http.StatusConflict, ErrConflict.Error(), "USERNAME_TAKEN")
	case errors.Is(err, ErrReservedUsername):
		return NewHTTPError(http.StatusUnprocessableEntity, ErrReservedUsername.Error(), "USERNAME_RESERVED")
	case errors.As(err, &verr):
		return NewHTTPError(http.StatusUnprocessableEntity, verr.Error(), "VALIDATION_FAILED")
	case errors.Is(err, ErrValidation):
		return NewHTTPError(http.StatusUnprocessableEntity, ErrValidation.Error(), "VALIDATION_FAILED")
	case errors.Is(err, ErrAuthentication):
		return NewHTTPError(http.StatusUnauthorized, ErrAuthentication.Error(), "AUTHENTICATION_FAILED")
	case errors.Is(err, ErrStorage):
		return NewHTTPError(http.StatusInternalServerError, "storage unavailable", "STORAGE_ERROR")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
