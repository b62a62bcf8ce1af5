package identity

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Identifier is a parsed resolver lookup key.
// Exactly one of ID or Username is set.
type Identifier struct {
	ID       string
	Username string
}

// ParseIdentifier classifies raw as a user id (UUID, canonical lower-case form)
// or a username (normalized). Empty input is ErrInvalidInput.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, invalidInput("identity.ParseIdentifier", "empty identifier")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return Identifier{ID: id.String()}, nil
	}
	return Identifier{Username: NormalizeUsername(raw)}, nil
}
