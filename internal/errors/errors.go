package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the authentication gate
var (
	// ErrUnauthenticated means there is no valid session. Callers redirect to login.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAuth is the kind of every AuthError
	ErrAuth = errors.New("authentication failed")
	// ErrStore is the kind of every StoreError
	ErrStore = errors.New("session store unavailable")
	// ErrLogSink is counted by the activity logger and never returned to callers
	ErrLogSink = errors.New("activity sink failure")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// Login flow errors
	ErrStateMismatch = errors.New("state mismatch")
	ErrStateNotFound = errors.New("state not found")
	ErrMissingClaim  = errors.New("missing required claim")
	ErrNonceMismatch = errors.New("nonce mismatch")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// AuthReason enumerates why a login attempt was rejected
type AuthReason string

const (
	ReasonStateMissing   AuthReason = "state_missing"
	ReasonStateMismatch  AuthReason = "state_mismatch"
	ReasonProviderError  AuthReason = "provider_error"
	ReasonMissingCode    AuthReason = "missing_code"
	ReasonExchangeFailed AuthReason = "exchange_failed"
	ReasonMissingClaim   AuthReason = "missing_claim"
	ReasonCancelled      AuthReason = "cancelled"
)

// AuthError is returned when a login callback cannot produce a session.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func NewAuthError(reason AuthReason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth error: %s", e.Reason)
	}
	return fmt.Sprintf("auth error: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// StoreError wraps a failure of the session backing store. It must never be
// treated as an unauthenticated caller.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Reason returns the AuthReason carried by err, or "" when err is not an AuthError.
func Reason(err error) AuthReason {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ""
}
