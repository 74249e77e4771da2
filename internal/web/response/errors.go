package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes v as a JSON response with the given status
func JSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// RenderError renders a standard error response. An *HTTPError anywhere in
// err's chain decides the status, code and details.
func RenderError(w http.ResponseWriter, statusCode int, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		httpErr.Render(w)
		return
	}
	RenderErrorWithCode(w, statusCode, err, "")
}

// RenderErrorWithCode renders an error with a specific error code
func RenderErrorWithCode(w http.ResponseWriter, statusCode int, err error, code string) {
	renderError(w, statusCode, err.Error(), code, nil)
}

// RenderErrorWithDetails renders an error with additional details
func RenderErrorWithDetails(w http.ResponseWriter, statusCode int, err error, details map[string]any) {
	renderError(w, statusCode, err.Error(), "", details)
}

func renderError(w http.ResponseWriter, statusCode int, message, code string, details map[string]any) {
	if code == "" {
		code = errorCodeFromStatus(statusCode)
	}
	JSON(w, statusCode, &ErrorResponse{
		Error:   "error",
		Message: message,
		Code:    code,
		Details: details,
	})
}

// RenderBadRequest renders a 400 Bad Request error
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, fmt.Errorf("%s", message))
}

// RenderNotFound renders a 404 Not Found error
func RenderNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RenderError(w, http.StatusNotFound, fmt.Errorf("%s", message))
}

// RenderServiceUnavailable renders a 503 Service Unavailable error
func RenderServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	RenderError(w, http.StatusServiceUnavailable, fmt.Errorf("%s", message))
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusBadGateway:
		return "bad_gateway"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusGatewayTimeout:
		return "gateway_timeout"
	default:
		return "error"
	}
}

// HTTPError represents an HTTP error with status code
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Details    map[string]any
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       errorCodeFromStatus(statusCode),
	}
}

// WithCode returns a copy with a custom error code
func (e *HTTPError) WithCode(code string) *HTTPError {
	c := *e
	c.Code = code
	return &c
}

// WithDetails returns a copy carrying details
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	c := *e
	c.Details = details
	return &c
}

// Render renders the HTTP error as a response
func (e *HTTPError) Render(w http.ResponseWriter) {
	renderError(w, e.StatusCode, e.Message, e.Code, e.Details)
}

// Common HTTP errors
var (
	ErrBadRequest         = NewHTTPError(http.StatusBadRequest, "Bad request")
	ErrNotFound           = NewHTTPError(http.StatusNotFound, "Not found")
	ErrInternalServer     = NewHTTPError(http.StatusInternalServerError, "Internal server error")
	ErrServiceUnavailable = NewHTTPError(http.StatusServiceUnavailable, "Service unavailable")
)
