package session

import (
	"net/http"
	"strings"
)

// AccessTokenName is the cookie and query parameter name carrying the access token.
// Browsers cannot set headers on WebSocket handshakes, hence the fallbacks.
const AccessTokenName = "access_token"

// TokenFromRequest extracts the access token, preferring the Authorization header,
// then the access_token cookie, then the access_token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingCredential
	}

	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(tok), nil
	}

	if c, err := r.Cookie(AccessTokenName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}

	if q := strings.TrimSpace(r.URL.Query().Get(AccessTokenName)); q != "" {
		return q, nil
	}

	return "", ErrMissingCredential
}
