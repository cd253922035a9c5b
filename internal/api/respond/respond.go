// Package respond writes the API's JSON bodies. Every failure carries the
// same envelope so task runners and operators can match on Code alone.
package respond

import (
	"encoding/json"
	"net/http"
)

// Code identifies an API failure independently of the HTTP status.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeInvalidTime  Code = "INVALID_TIME"
	CodeInvalidBody  Code = "INVALID_BODY"
	CodeInvalidEvent Code = "INVALID_EVENT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeStoreError   Code = "STORE_ERROR"
)

// APIError is the body of a failed request.
type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorBody wraps APIError as {"error": {...}}.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// Error writes a failure without detail.
func Error(w http.ResponseWriter, status int, code Code, message string) {
	ErrorDetail(w, status, code, message, "")
}

// ErrorDetail writes a failure. Error bodies are never cached; a retried
// sweep or event must reach the handler again.
func ErrorDetail(w http.ResponseWriter, status int, code Code, message, detail string) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, status, ErrorBody{Error: APIError{Code: code, Message: message, Detail: detail}})
}

// JSON writes v with the given status. Encoding errors after the header is
// sent cannot be reported to the client and are dropped.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
