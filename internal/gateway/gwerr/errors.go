// Package gwerr defines the error taxonomy surfaced by the image gateway.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of gateway failure
type Code string

const (
	CodeConfiguration    Code = "configuration_error"
	CodeUpstreamRejected Code = "upstream_rejected"
	CodeNetwork          Code = "network_error"
	CodeUpstreamService  Code = "upstream_service_error"
	CodeResponseParse    Code = "response_parse_error"
)

// Error is the structured failure returned to gateway callers
type Error struct {
	Code    Code
	Message string

	// UpstreamStatus is the upstream HTTP status, zero when no response arrived
	UpstreamStatus int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to the status the gateway answers with
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeConfiguration:
		return http.StatusBadRequest
	case CodeUpstreamRejected:
		return http.StatusUnprocessableEntity
	case CodeNetwork:
		return http.StatusGatewayTimeout
	case CodeResponseParse:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// Configuration creates a configuration error
func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Rejected creates an upstream-rejected error for a 4xx the caller can correct
func Rejected(status int, message string) *Error {
	return &Error{Code: CodeUpstreamRejected, Message: message, UpstreamStatus: status}
}

// Service creates an upstream service error
func Service(status int, message string) *Error {
	return &Error{Code: CodeUpstreamService, Message: message, UpstreamStatus: status}
}

// Network wraps a transport failure
func Network(err error) *Error {
	return &Error{Code: CodeNetwork, Message: "image generation request failed", Err: err}
}

// Parse wraps a 2xx body that did not match the dialect's response shape
func Parse(status int, err error) *Error {
	return &Error{
		Code:           CodeResponseParse,
		Message:        "upstream response does not match the expected image response format",
		UpstreamStatus: status,
		Err:            err,
	}
}

// As extracts a gateway error from err
func As(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	gwErr, ok := As(err)
	return ok && gwErr.Code == code
}
