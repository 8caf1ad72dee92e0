package completion

import (
	"errors"
	"fmt"
)

// ConfigurationError means the client cannot be used as configured. Never retried.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("completion %s is not configured", e.Field)
}

// ValidationError rejects input before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid completion request: " + e.Reason
}

// RemoteError means the endpoint answered but rejected the request.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion endpoint returned status %d", e.Status)
	}
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.Status, e.Message)
}

// NetworkError is a transport failure that outlived the retry budget.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("completion request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

const (
	KindConfiguration = "configuration"
	KindValidation    = "validation"
	KindRemote        = "remote"
	KindNetwork       = "network"
	KindUnknown       = "unknown"
)

// Kind names the taxonomy bucket of err.
func Kind(err error) string {
	var (
		cfgErr *ConfigurationError
		valErr *ValidationError
		remErr *RemoteError
		netErr *NetworkError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &remErr):
		return KindRemote
	case errors.As(err, &netErr):
		return KindNetwork
	default:
		return KindUnknown
	}
}
