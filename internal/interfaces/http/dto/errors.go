package dto

import (
	"net/http"

	"github.com/schoolerp/backend/internal/domain/shared"
)

// Domain error codes are passed through to clients unchanged. The codes below
// cover failures that never reach the domain.
const (
	ErrCodeValidation      = shared.CodeValidation
	ErrCodeNotFound        = shared.CodeNotFound
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInvalidJSON     = "INVALID_JSON"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeUnavailable     = "SERVICE_UNAVAILABLE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	shared.CodeValidation:             http.StatusBadRequest,
	shared.CodeInvalidAmount:          http.StatusUnprocessableEntity,
	shared.CodeInvalidState:           http.StatusUnprocessableEntity,
	shared.CodeNotFound:               http.StatusNotFound,
	shared.CodeAlreadyExists:          http.StatusConflict,
	shared.CodeConcurrentModification: http.StatusConflict,
	shared.CodeSignatureMismatch:      http.StatusUnauthorized,
	shared.CodeGatewayError:           http.StatusBadGateway,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
	ErrCodeInternal:        http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes are internal errors.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
