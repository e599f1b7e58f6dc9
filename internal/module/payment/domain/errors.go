package domain

import (
	"errors"
	"fmt"
)

// Payment errors. Callers match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrUnsupportedGateway  = errors.New("unsupported gateway")
	ErrProvider            = errors.New("payment provider error")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidState        = errors.New("invalid transaction state")
	ErrUnauthorizedWebhook = errors.New("invalid webhook signature")
	ErrMissingCredentials  = errors.New("missing provider credentials")
)

// ErrDuplicateReference is returned when a reference is already recorded.
var ErrDuplicateReference error = &ValidationError{Field: "reference", Message: "already exists"}

// ValidationError describes a malformed amount, email, currency or reference.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StateError reports a guard violation on the transaction lifecycle.
type StateError struct {
	Reference string
	Message   string
}

func (e *StateError) Error() string {
	return e.Message
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewStateError creates an invalid state error for a reference.
func NewStateError(reference, message string) error {
	return &StateError{Reference: reference, Message: message}
}

// ProviderError wraps an upstream failure and keeps the provider message when one was returned.
type ProviderError struct {
	Gateway    Gateway
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("%s request failed", e.Gateway)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Gateway, e.Operation, msg, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Gateway, e.Operation, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// PublicMessage returns the message that is safe to surface to API callers.
func (e *ProviderError) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return "payment provider request failed"
}

// UnsupportedGatewayError reports an unknown or unconfigured gateway id.
type UnsupportedGatewayError struct {
	Gateway string
}

func (e *UnsupportedGatewayError) Error() string {
	return fmt.Sprintf("unsupported gateway: %q", e.Gateway)
}

func (e *UnsupportedGatewayError) Is(target error) bool {
	return target == ErrUnsupportedGateway
}

// IsInvalidState reports whether err is a lifecycle guard violation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
