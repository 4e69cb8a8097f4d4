package response

import (
	"fmt"
	"net/http"
)

// Error is an HTTP error rendered as JSON by WriteError. Code is a stable
// machine readable identifier, Message is meant for humans.
type Error struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"error"`
	Messages   []string `json:"messages,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func newError(status int, code, message string) *Error {
	return &Error{
		StatusCode: status,
		Code:       code,
		Message:    message,
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return newError(http.StatusInternalServerError, "unexpected", "An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return newError(http.StatusBadRequest, "bad_request", "Bad request")
}

func ErrNotFound() *Error {
	return newError(http.StatusNotFound, "not_found", "Requested resources not found")
}

// ErrInvalidSignature rejects a webhook whose Stripe-Signature does not verify
func ErrInvalidSignature() *Error {
	return newError(http.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
}

// ErrBodyTooLarge rejects a webhook body above the size limit
func ErrBodyTooLarge() *Error {
	return newError(http.StatusBadRequest, "body_too_large", "Request body is too large")
}
