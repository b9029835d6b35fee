package response

import (
	"net/http"
)

// Envelope is the terminal JSON shape every API caller receives. Handlers
// never let a raw error or stack trace past the boundary.
type Envelope struct {
	StatusCode int   `json:"statusCode"`
	Body       *Body `json:"body"`
}

// Body carries the response message or payload
type Body struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// --- Error Code Constants ---

const (
	// Client errors (4xx)
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"

	// Server errors (5xx)
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUpstream      = "UPSTREAM_FAILURE"
	ErrCodeTimeout       = "TIMEOUT"
)

// ErrorCodeToHTTPStatus maps error codes to HTTP status codes. The public
// contract only distinguishes 200, 400 and 500 class responses.
var ErrorCodeToHTTPStatus = map[string]int{
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeUnauthorized:  http.StatusUnauthorized,
	ErrCodeForbidden:     http.StatusForbidden,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeInternalError: http.StatusInternalServerError,
	ErrCodeUpstream:      http.StatusInternalServerError,
	ErrCodeTimeout:       http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeToHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// --- Response Builders ---

// OK creates a success envelope with a message
func OK(message string) *Envelope {
	return &Envelope{
		StatusCode: http.StatusOK,
		Body:       &Body{Message: message},
	}
}

// OKWithData creates a success envelope with a message and payload
func OKWithData(message string, data interface{}) *Envelope {
	return &Envelope{
		StatusCode: http.StatusOK,
		Body:       &Body{Message: message, Data: data},
	}
}

// Error creates an error envelope for the given code
func Error(code string, message string) *Envelope {
	return &Envelope{
		StatusCode: GetHTTPStatus(code),
		Body:       &Body{Message: message, Code: code},
	}
}

// BadRequest creates a bad request error envelope
func BadRequest(message string) *Envelope {
	return Error(ErrCodeBadRequest, message)
}

// Unauthorized creates an unauthorized error envelope. The message is fixed:
// the response must not distinguish why the credential was rejected.
func Unauthorized() *Envelope {
	return Error(ErrCodeUnauthorized, "Unauthorized")
}

// NotFound creates a not found error envelope
func NotFound(message string) *Envelope {
	if message == "" {
		message = "Resource not found"
	}
	return Error(ErrCodeNotFound, message)
}

// Conflict creates a conflict error envelope
func Conflict(message string) *Envelope {
	if message == "" {
		message = "Resource conflict"
	}
	return Error(ErrCodeConflict, message)
}

// InternalError creates an internal server error envelope
func InternalError(message string) *Envelope {
	if message == "" {
		message = "An internal error occurred"
	}
	return Error(ErrCodeInternalError, message)
}
