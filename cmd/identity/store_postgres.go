package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver reads users from <schema>.users.
//
// The pgx pool is owned by the caller; this resolver must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresResolver struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the resolver.
type PostgresOption func(*PostgresResolver) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the resolver (default "tuthub").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresResolver) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresResolver constructs a PostgresResolver.
func NewPostgresResolver(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresResolver, error) {
	r := &PostgresResolver{
		pool:   pool,
		schema: "tuthub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return r, nil
}

// Resolve implements Resolver.
func (r *PostgresResolver) Resolve(ctx context.Context, identifier string) (User, error) {
	const op = "identity.PostgresResolver.Resolve"

	if r == nil || r.pool == nil {
		return User{}, errors.New("identity: nil resolver")
	}
	key, err := ParseIdentifier(identifier)
	if err != nil {
		return User{}, err
	}

	users := pgx.Identifier{r.schema, "users"}.Sanitize()

	var (
		u    User
		name *string
		row  pgx.Row
	)
	if key.ID != "" {
		row = r.pool.QueryRow(ctx,
			`SELECT id::text, username, display_name FROM `+users+` WHERE id = $1::uuid`,
			key.ID,
		)
	} else {
		row = r.pool.QueryRow(ctx,
			`SELECT id::text, username, display_name FROM `+users+` WHERE lower(username) = $1`,
			key.Username,
		)
	}

	err = row.Scan(&u.ID, &u.Username, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op, identifier)
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if name != nil {
		u.Name = *name
	}
	return u, nil
}
