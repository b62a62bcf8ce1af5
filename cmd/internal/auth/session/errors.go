package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingCredential is returned when a request carries no access token at all.
	ErrMissingCredential = errors.New("missing credential")

	// ErrCannotIssue is returned by verify-only managers (no secret key configured).
	ErrCannotIssue = errors.New("token issuing not configured")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
