package api

import (
	"fmt"
	"net/http"
	"strings"
)

// Error codes the client maps to a recovery strategy during the
// websocket handshake: token_expired means refresh-and-retry,
// token_invalid and unauthorized mean re-login.
const (
	CodeTokenExpired = "token_expired"
	CodeTokenInvalid = "token_invalid"
	CodeUnauthorized = "unauthorized"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

func NewTokenExpiredError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       CodeTokenExpired,
		Message:    "connection token expired",
	}
}

func NewTokenInvalidError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       CodeTokenInvalid,
		Message:    "connection token invalid",
	}
}
