package response

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/windfall/prosody_service/internal/errors"
)

// Response represents a standard API response.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorBody represents an error in the response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta contains metadata about the response.
type Meta struct {
	Limit int `json:"limit,omitempty"`
	Total int `json:"total"`
}

// now is swapped in tests.
var now = time.Now

func timestamp() string {
	return now().UTC().Format(time.RFC3339Nano)
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Timestamp: timestamp(),
	})
}

// JSONWithMeta writes a JSON response with metadata.
func JSONWithMeta(w http.ResponseWriter, status int, data any, meta *Meta) {
	write(w, status, Response{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		Timestamp: timestamp(),
	})
}

// Raw writes v as the whole body, without the envelope.
func Raw(w http.ResponseWriter, status int, v any) {
	write(w, status, v)
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, err any) {
	var errBody *ErrorBody

	switch e := err.(type) {
	case *ErrorBody:
		errBody = e
	case interface{ Error() string }:
		errBody = &ErrorBody{
			Code:    "ERROR",
			Message: e.Error(),
		}
	case string:
		errBody = &ErrorBody{
			Code:    "ERROR",
			Message: e,
		}
	default:
		errBody = &ErrorBody{
			Code:    "UNKNOWN_ERROR",
			Message: "An unknown error occurred",
		}
	}

	write(w, status, Response{
		Success:   false,
		Error:     errBody,
		Timestamp: timestamp(),
	})
}

// FromError writes err with the status its code maps to.
func FromError(w http.ResponseWriter, err *apperrors.AppError) {
	Error(w, err.HTTPStatus(), &ErrorBody{
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	})
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, &ErrorBody{
		Code:    "NOT_FOUND",
		Message: message,
	})
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	Error(w, http.StatusMethodNotAllowed, &ErrorBody{
		Code:    "METHOD_NOT_ALLOWED",
		Message: message,
	})
}

// BadRequest writes a 400 Bad Request response.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, &ErrorBody{
		Code:    "VALIDATION_ERROR",
		Message: message,
	})
}

// Unauthorized writes a 401 Unauthorized response.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, &ErrorBody{
		Code:    "UNAUTHORIZED",
		Message: message,
	})
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
