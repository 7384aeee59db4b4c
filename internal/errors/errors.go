// Package errors defines the service error type returned over HTTP.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodePaymentRequired    Code = "PAYMENT_REQUIRED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeUpstream           Code = "UPSTREAM_FAILURE"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// ServiceError carries an HTTP status alongside a code and message.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"error"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// New builds a ServiceError.
func New(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return New(CodeBadRequest, http.StatusBadRequest, message, nil)
}

func InvalidFormat(field, message string) *ServiceError {
	return New(CodeInvalidFormat, http.StatusBadRequest, message, nil).WithDetails("field", field)
}

func Unauthorized(message string) *ServiceError {
	return New(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return New(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(message string, err error) *ServiceError {
	return New(CodeNotFound, http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *ServiceError {
	return New(CodeConflict, http.StatusConflict, message, err)
}

func PaymentRequired(message string, err error) *ServiceError {
	return New(CodePaymentRequired, http.StatusPaymentRequired, message, err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Upstream(message string, err error) *ServiceError {
	return New(CodeUpstream, http.StatusBadGateway, message, err)
}

func Internal(message string, err error) *ServiceError {
	return New(CodeInternal, http.StatusInternalServerError, message, err)
}

func ServiceUnavailable(message string) *ServiceError {
	return New(CodeServiceUnavailable, http.StatusServiceUnavailable, message, nil)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}
