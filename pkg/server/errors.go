package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Param is the name of the parameter that caused the error (if applicable).
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error type constants.
const (
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeNotFound          = "not_found"
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"
	ErrorTypeServerError       = "server_error"
)

// Error code constants for common error scenarios.
const (
	CodeMissingField  = "missing_field"
	CodeInvalidValue  = "invalid_value"
	CodeInvalidJSON   = "invalid_json"
	CodeUnknownLimit  = "unknown_limit_type"
	CodeUnknownSvc    = "unknown_service"
	CodeUnknownRes    = "unknown_reservation"
	CodeInternalError = "internal_error"
)

// statusForType maps an error type to its HTTP status.
func statusForType(errorType string) int {
	switch errorType {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, errorType, code, param, message string) {
	writeJSON(w, statusForType(errorType), ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	})
}

func writeInvalid(w http.ResponseWriter, code, param, message string) {
	writeError(w, ErrorTypeInvalidRequest, code, param, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
