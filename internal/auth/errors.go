package auth

import (
	"errors"
	"fmt"
)

// ErrNoCode is returned by a CodeReceiver when the operator supplied nothing
var ErrNoCode = errors.New("no authorization code received")

// AuthErrorKind classifies an AuthError
type AuthErrorKind string

const (
	// ExchangeFailed covers network failures, non-2xx answers and malformed
	// responses from the token endpoint.
	ExchangeFailed AuthErrorKind = "exchange_failed"
	// CodeUnavailable means the operator never supplied an authorization code.
	CodeUnavailable AuthErrorKind = "code_unavailable"
)

// AuthError is terminal for a run: no batch item can succeed without a token
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed (%s): %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an AuthError of the given kind
func IsAuthError(err error, kind AuthErrorKind) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == kind
}
