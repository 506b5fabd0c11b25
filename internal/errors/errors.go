// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrRateLimited        = errors.New("rate limited")
	ErrTimeout            = errors.New("operation timed out")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrPositionNotFound   = errors.New("position not found")
	ErrPositionClosed     = errors.New("position already closed")
	ErrOrderRejected      = errors.New("order rejected")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrEmergencyStopped   = errors.New("emergency stop is active")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDataNotFound       = errors.New("data not found")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// VenueError represents an error returned by the trading venue.
type VenueError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *VenueError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("venue %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("venue %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("venue %s: %s", e.Op, e.Message)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError creates a new VenueError.
func NewVenueError(op string, statusCode int, message string, err error) *VenueError {
	return &VenueError{
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// AdvisoryError represents an error from the advisory service. Advisory
// failures are decision-invalidating, never fatal: the caller treats them
// as "no opportunity this cycle".
type AdvisoryError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *AdvisoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("advisory %s: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("advisory %s: %s", e.Symbol, e.Reason)
}

func (e *AdvisoryError) Unwrap() error {
	return e.Err
}

// NewAdvisoryError creates a new AdvisoryError.
func NewAdvisoryError(symbol, reason string, err error) *AdvisoryError {
	return &AdvisoryError{Symbol: symbol, Reason: reason, Err: err}
}

// ValidationError represents a boundary validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
