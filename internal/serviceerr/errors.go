// Package serviceerr defines the closed set of errors the auth flow can
// surface. Callback and session failures are mapped to machine-readable
// codes before they reach the browser; internals are never rendered.
package serviceerr

import (
	"errors"
	"fmt"
)

var ErrMissingParameters = errors.New("missing code or state parameter")
var ErrStateMismatch = errors.New("state mismatch")
var ErrMissingVerifier = errors.New("missing code verifier")
var ErrTokenExchangeFailed = errors.New("token exchange failed")
var ErrNoRefreshToken = errors.New("no refresh token")
var ErrRefreshFailed = errors.New("token refresh failed")
var ErrUnauthenticated = errors.New("not authenticated")
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")
var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("already exists")

// AuthorizationDeniedError carries the error code reported by the
// authorization server on the callback redirect, e.g. "access_denied".
type AuthorizationDeniedError struct {
	ProviderCode string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("authorization denied by provider: %s", e.ProviderCode)
}

// APIError is returned by the authenticated request wrapper for any non-2xx
// resource API response. Data carries the decoded error body when the
// response was JSON.
type APIError struct {
	Status  int
	Message string
	Data    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Callback error codes surfaced to the login page. The generic
// CodeCallbackFailed covers anything not covered by a more specific code.
const (
	CodeMissingParameters   = "missing_parameters"
	CodeInvalidState        = "invalid_state"
	CodeMissingVerifier     = "missing_verifier"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeCallbackFailed      = "callback_failed"
)

// Code maps a callback error onto its redirect query parameter value. An
// authorization denial echoes the provider's own code.
func Code(err error) string {
	var denied *AuthorizationDeniedError
	if errors.As(err, &denied) {
		return denied.ProviderCode
	}

	switch {
	case errors.Is(err, ErrMissingParameters):
		return CodeMissingParameters
	case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrFingerprintMismatch):
		return CodeInvalidState
	case errors.Is(err, ErrMissingVerifier):
		return CodeMissingVerifier
	case errors.Is(err, ErrTokenExchangeFailed):
		return CodeTokenExchangeFailed
	default:
		return CodeCallbackFailed
	}
}
