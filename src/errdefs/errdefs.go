// Package errdefs holds the error taxonomy shared by the datastore providers, the embedding
// adapters and the session orchestrator.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when the bound provider does not implement a capability.
	ErrUnsupported = errors.New("unsupported capability")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation error")
	// ErrAuth is returned when a protected operation lacks a valid credential.
	ErrAuth = errors.New("authentication required")
	// ErrNotFound marks a missing entity where absence is an error for the caller.
	ErrNotFound = errors.New("not found")
	// ErrSessionNotFound is returned by session operations on an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBackendUnavailable wraps transport or connection failures of a store or model service.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrConfig marks an invalid or unknown provider configuration.
	ErrConfig = errors.New("invalid configuration")
)

// UnsupportedError names the provider and the capability it declined.
type UnsupportedError struct {
	Provider   string
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Capability, ErrUnsupported)
}

// Is reports ErrUnsupported as the matching sentinel.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unsupported builds an UnsupportedError.
func Unsupported(provider, capability string) error {
	return &UnsupportedError{Provider: provider, Capability: capability}
}

// Validationf formats a message wrapped around ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authf formats a message wrapped around ErrAuth.
func Authf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Configf formats a message wrapped around ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Unavailable wraps err so that it matches ErrBackendUnavailable. A nil error stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// IsRetryable reports whether a read operation that failed with err may be attempted again.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, ErrBackendUnavailable)
}
