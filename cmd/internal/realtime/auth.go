package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tuthub/cmd/identity"
	"tuthub/cmd/internal/auth/session"
)

// ErrUnauthenticated is returned when the caller cannot be established.
var ErrUnauthenticated = errors.New("realtime: unauthenticated")

// Authenticator establishes the caller identity for a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (identity.User, error)
}

func isUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// TokenAuthenticator verifies an access token and resolves its subject to a user.
// A valid token for an unknown user is still an authentication failure.
type TokenAuthenticator struct {
	Verifier session.Verifier
	Resolver identity.Resolver
	Now      func() time.Time
}

// Authenticate implements Authenticator. All failures wrap ErrUnauthenticated
// except resolver infrastructure errors.
func (a TokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (identity.User, error) {
	if a.Verifier == nil || a.Resolver == nil {
		return identity.User{}, fmt.Errorf("%w: authenticator not configured", ErrUnauthenticated)
	}

	tok, err := session.TokenFromRequest(r)
	if err != nil {
		return identity.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	claims, err := a.Verifier.Verify(tok, now().UTC())
	if err != nil {
		return identity.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	u, err := a.Resolver.Resolve(ctx, claims.UserID)
	if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
		return identity.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("resolve caller: %w", err)
	}
	return u, nil
}
