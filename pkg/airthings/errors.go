package airthings

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an API error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network errors, request timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates the API rate limit was hit (HTTP 429).
	// Should be retried with exponential backoff, never with an immediate
	// token refresh.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassAuth indicates the credentials were rejected or the token
	// exchange failed. Not recoverable without new credentials.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed responses, unknown devices, exhausted retries.
	ErrorClassPermanent ErrorClass = "permanent"
)

// APIError represents a classified error returned by the Airthings API client.
type APIError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Operation is the client operation being performed (e.g. "devices",
	// "latest-samples", "token").
	Operation string `json:"operation,omitempty"`

	// DeviceID is the device serial number involved, if applicable.
	DeviceID string `json:"device_id,omitempty"`

	// StatusCode is the HTTP status code that produced the error, if any.
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s", e.Operation)
		if e.DeviceID != "" {
			msg += fmt.Sprintf(", device=%s", e.DeviceID)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *APIError {
	return &APIError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *APIError {
	return &APIError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewAuthError creates a new authentication error.
func NewAuthError(message string, err error) *APIError {
	return &APIError{Class: ErrorClassAuth, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *APIError {
	return &APIError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithOperation adds operation context to an error.
func (e *APIError) WithOperation(operation string) *APIError {
	e.Operation = operation
	return e
}

// WithDevice adds device context to an error.
func (e *APIError) WithDevice(deviceID string) *APIError {
	e.DeviceID = deviceID
	return e
}

// WithStatus adds the HTTP status code to an error.
func (e *APIError) WithStatus(code int) *APIError {
	e.StatusCode = code
	return e
}

// classOf returns the error class of err, or empty if err is not an APIError.
func classOf(err error) ErrorClass {
	var e *APIError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return classOf(err) == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	return classOf(err) == ErrorClassThrottled
}

// IsAuth returns true if the error is an authentication failure.
func IsAuth(err error) bool {
	return classOf(err) == ErrorClassAuth
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return classOf(err) == ErrorClassPermanent
}

// IsRetryable returns true if the error can be retried.
// Transient and throttled errors are retryable; auth and permanent are not.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}
