package httputil

import (
	"encoding/json"
	"net/http"
)

// RetryableErrorMessage is the body text for unexpected backend failures.
const RetryableErrorMessage = "something went wrong, please try again"

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error    string                 `json:"error"`
	Field    string                 `json:"field,omitempty"`
	Guidance string                 `json:"guidance,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes a structured error body
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	_ = WriteJSON(w, status, resp)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, status, ErrorResponse{Error: message})
}

// WriteValidationError writes a 400 naming the offending field
func WriteValidationError(w http.ResponseWriter, field, message string) {
	WriteErrorResponse(w, http.StatusBadRequest, ErrorResponse{Error: message, Field: field})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteDenied writes a 403 carrying user-facing guidance
func WriteDenied(w http.ResponseWriter, message, guidance string) {
	WriteErrorResponse(w, http.StatusForbidden, ErrorResponse{Error: message, Guidance: guidance})
}

// WriteNotFound writes a not found error response (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteConflict writes a conflict error (409)
func WriteConflict(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusConflict, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a generic retryable 500.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, RetryableErrorMessage)
}

// WriteServiceUnavailable writes a 503 with optional details
func WriteServiceUnavailable(w http.ResponseWriter, message string, details map[string]interface{}) {
	WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: message, Details: details})
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
