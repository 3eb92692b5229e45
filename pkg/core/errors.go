package core

import (
	"errors"
	"fmt"
)

// Error is a classified session or tool failure.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrPermission ErrorType = "permission_error"
	ErrCredential ErrorType = "credential_error"
	ErrHandshake  ErrorType = "handshake_error"
	ErrUnstable   ErrorType = "unstable_error"
	ErrValidation ErrorType = "validation_error"
	ErrStore      ErrorType = "store_error"
	ErrState      ErrorType = "state_error"
	ErrAgent      ErrorType = "agent_error"
)

// NewPermissionError creates a permission error.
func NewPermissionError(message string, cause error) *Error {
	return &Error{Type: ErrPermission, Message: message, Cause: cause}
}

// NewCredentialError creates a credential exchange error.
func NewCredentialError(message string, cause error) *Error {
	return &Error{Type: ErrCredential, Message: message, Cause: cause}
}

// NewHandshakeError creates a connection handshake error.
func NewHandshakeError(message string, cause error) *Error {
	return &Error{Type: ErrHandshake, Message: message, Cause: cause}
}

// NewUnstableError creates the terminal error surfaced once the retry budget is spent.
func NewUnstableError(retries int) *Error {
	return &Error{
		Type:    ErrUnstable,
		Message: fmt.Sprintf("connection unstable after %d retries, please retry", retries),
		Code:    "connection_unstable",
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrValidation, Message: message}
}

// NewStoreError creates a memory store error.
func NewStoreError(op string, cause error) *Error {
	return &Error{Type: ErrStore, Message: op + " failed", Cause: cause}
}

// NewStateError creates a state machine error.
func NewStateError(message string) *Error {
	return &Error{Type: ErrState, Message: message}
}

// NewAgentError wraps an error the agent reported on an open connection.
func NewAgentError(code, message string) *Error {
	return &Error{Type: ErrAgent, Message: message, Code: code}
}

// IsType reports whether err (or anything it wraps) is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// TypeOf returns the classified type of err, or "" when unclassified.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}
