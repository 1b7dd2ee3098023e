// Package apperr defines the error taxonomy shared by the services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrExternalService  = errors.New("external service error")
)

// AppError carries a client-facing code and message plus the HTTP status it maps to.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's category, so errors.Is(err, ErrNotFound) works
// for an AppError wrapping an arbitrary cause.
func (e *AppError) Is(target error) bool {
	return categoryOf(e.Code) == target
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: e.Code, Message: e.Message}}
}

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
)

// Validation reports malformed or insufficient input.
func Validation(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusBadRequest,
		Err:        ErrValidation,
	}
}

// NotFound reports an unknown order or payment reference.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// InvalidState reports an operation not allowed in the entity's current state.
func InvalidState(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeInvalidState,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusConflict,
		Err:        ErrInvalidState,
	}
}

func SignatureInvalid(message string) *AppError {
	return &AppError{
		Code:       CodeSignatureInvalid,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrSignatureInvalid,
	}
}

// ExternalService wraps a failed call to the payment gateway.
func ExternalService(message string, err error) *AppError {
	if err == nil {
		err = ErrExternalService
	}
	return &AppError{
		Code:       CodeExternalService,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From returns err as an *AppError, classifying unknown errors as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal error",
		StatusCode: StatusCode(err),
		Err:        err,
	}
}

func categoryOf(code string) error {
	switch code {
	case CodeValidation:
		return ErrValidation
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalidState:
		return ErrInvalidState
	case CodeSignatureInvalid:
		return ErrSignatureInvalid
	case CodeExternalService:
		return ErrExternalService
	}
	return nil
}

func isSentinel(err error) bool {
	switch err {
	case ErrValidation, ErrNotFound, ErrInvalidState, ErrSignatureInvalid, ErrExternalService:
		return true
	}
	return false
}
