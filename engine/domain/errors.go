package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipelines.
var (
	ErrFetch                 = errors.New("fetch failed")
	ErrIndexUnavailable      = errors.New("index unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrConfiguration         = errors.New("configuration error")
	ErrInvalidQuestion       = errors.New("invalid question")
	ErrCacheCorrupt          = errors.New("raw cache corrupt")
	ErrIngestRunning         = errors.New("ingestion already running")
)

// FetchError describes a failed page fetch. Status is zero for transport errors.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Is makes every FetchError match ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }

// ConfigError wraps ErrConfiguration with the offending key.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError creates a ConfigError.
func NewConfigError(key, reason string) *ConfigError {
	return &ConfigError{Key: key, Reason: reason}
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
