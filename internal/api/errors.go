package api

import (
	"errors"
	"fmt"
)

// ConfigError is returned by New when the construction config is unusable.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid client config: %s %s", e.Field, e.Reason)
}

// ValidationError is returned from a call before any network activity when
// its arguments cannot be turned into a request.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid call arguments: %s", e.Reason)
	}
	return fmt.Sprintf("invalid call arguments: %s: %s", e.Key, e.Reason)
}

// InterceptorError wraps an error returned by the OnInvalidCredential callback.
// The envelope of the 401 response is still returned alongside it.
type InterceptorError struct {
	Err error
}

func (e *InterceptorError) Error() string {
	return fmt.Sprintf("invalid credential handler failed: %v", e.Err)
}

func (e *InterceptorError) Unwrap() error { return e.Err }

// TransportError describes a network or timeout failure. It is never
// returned from a call; it is carried in Envelope.Err of a status 0 envelope.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %v", e.Err)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConfigError checks if the error is a construction config error.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsValidationError checks if the error is a call argument error.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsInterceptorError checks if the error came from the invalid credential callback.
func IsInterceptorError(err error) bool {
	var e *InterceptorError
	return errors.As(err, &e)
}
