// Package failure defines the error taxonomy consumed by the classifier.
//
// This package contains:
//   - Error: structured failure with a stable code and explicit retryable flag
//   - HTTPError: failure carrying an HTTP status and response headers
//   - NetworkError: transport failure carrying an errno-style code
//   - AbortError: cancellation observed between attempts
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a structured failure with a stable code.
type Error struct {
	Code      string
	Message   string
	retryable bool
	Cause     error
}

// New creates a structured failure that is not flagged retryable.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Retryable creates a structured failure explicitly flagged retryable.
func Retryable(code, message string) *Error {
	return &Error{Code: code, Message: message, retryable: true}
}

// Wrap attaches a code to an underlying error.
func Wrap(code string, retryable bool, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Message: msg, retryable: retryable, Cause: cause}
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "operation failed"
	}
	if e.Code == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode returns the stable failure code.
func (e *Error) ErrorCode() string { return e.Code }

// Retryable reports the explicit retryable flag.
func (e *Error) Retryable() bool { return e.retryable }

// HTTPError is returned for non-2xx responses from a remote collaborator.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Header     http.Header
	Body       string
}

func (e *HTTPError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		text = "unexpected status"
	}
	if e.Method == "" && e.URL == "" {
		return fmt.Sprintf("http %d %s", e.StatusCode, text)
	}
	return fmt.Sprintf("%s %s: http %d %s", e.Method, e.URL, e.StatusCode, text)
}

// Status returns the HTTP status code.
func (e *HTTPError) Status() int { return e.StatusCode }

// ResponseHeader returns the response headers, used for Retry-After extraction.
func (e *HTTPError) ResponseHeader() http.Header { return e.Header }

// NetworkError is a transport-level failure.
type NetworkError struct {
	Code string
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: network error %s", e.Op, e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("network error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: network error %s: %v", e.Op, e.Code, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NetworkCode returns the errno-style transport code.
func (e *NetworkError) NetworkCode() string { return e.Code }

// AbortError reports that cancellation was observed at an attempt boundary.
type AbortError struct {
	Operation string
	Attempt   int
	Err       error
}

func (e *AbortError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("aborted before attempt %d: %v", e.Attempt+1, e.Err)
	}
	return fmt.Sprintf("%s aborted before attempt %d: %v", e.Operation, e.Attempt+1, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// IsAbort reports whether err is an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// CodeOf returns the first structured code found in err's chain.
func CodeOf(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
