package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryResolver is a dev/test Resolver over a fixed in-process user set.
type MemoryResolver struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]User
}

// NewMemoryResolver constructs a MemoryResolver seeded with users.
// Users without an ID get a deterministic UUID derived from their username
// so that seeded dev users keep the same id across restarts.
func NewMemoryResolver(users ...User) *MemoryResolver {
	r := &MemoryResolver{
		byID:   make(map[string]User, len(users)),
		byName: make(map[string]User, len(users)),
	}
	for _, u := range users {
		r.Add(u)
	}
	return r
}

// NewMemoryResolverFromUsernames seeds a resolver from a list of usernames.
func NewMemoryResolverFromUsernames(names []string) *MemoryResolver {
	names = lo.Uniq(lo.Filter(lo.Map(names, func(n string, _ int) string {
		return NormalizeUsername(n)
	}), func(n string, _ int) bool { return n != "" }))

	return NewMemoryResolver(lo.Map(names, func(n string, _ int) User {
		return User{Username: n}
	})...)
}

// Add inserts or replaces a user and returns the stored record.
func (r *MemoryResolver) Add(u User) User {
	u.Username = NormalizeUsername(u.Username)
	if u.ID == "" {
		u.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tuthub:user:"+u.Username)).String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	if u.Username != "" {
		r.byName[u.Username] = u
	}
	return u
}

// Users returns a snapshot of all known users.
func (r *MemoryResolver) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byID)
}

// Resolve implements Resolver.
func (r *MemoryResolver) Resolve(ctx context.Context, identifier string) (User, error) {
	const op = "identity.MemoryResolver.Resolve"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	key, err := ParseIdentifier(identifier)
	if err != nil {
		return User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		u  User
		ok bool
	)
	if key.ID != "" {
		u, ok = r.byID[key.ID]
	} else {
		u, ok = r.byName[key.Username]
	}
	if !ok {
		return User{}, notFound(op, identifier)
	}
	return u, nil
}
