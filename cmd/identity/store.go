//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../internal/mocks/mock_resolver.go -package=mocks

package identity

import (
	"context"
	"strings"
)

// User is the canonical chat participant as read from the accounts store.
type User struct {
	ID       string
	Username string

	// Name is the optional display name; empty means "use Username".
	Name string
}

// DisplayName is the name shown to the other participant in deliveries.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	return u.Username
}

// Resolver turns an identifier from a connection request into a User.
// Unknown identifiers fail with an error matching ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (User, error)
}
