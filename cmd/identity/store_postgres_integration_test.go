package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"tuthub/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require TUTHUB_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresResolver_ResolveByIDAndUsername(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	users := pgx.Identifier{schema, "users"}.Sanitize()
	mustExec(t, pool, `CREATE TABLE `+users+` (
		id uuid PRIMARY KEY,
		username text UNIQUE NOT NULL,
		display_name text
	)`)
	mustExec(t, pool, `INSERT INTO `+users+` (id, username, display_name) VALUES
		('7d4a2c1e-2f4b-4c55-9c0a-0a1b2c3d4e5f', 'alice', NULL),
		('9b1f3e2d-1c0a-4d4b-8e7f-6a5b4c3d2e1f', 'bob', 'Bob B.')`)

	r, err := NewPostgresResolver(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresResolver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, err := r.Resolve(ctx, "7D4A2C1E-2F4B-4C55-9C0A-0A1B2C3D4E5F")
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if alice.Username != "alice" || alice.DisplayName() != "alice" {
		t.Fatalf("unexpected alice: %+v", alice)
	}

	bob, err := r.Resolve(ctx, "  BOB ")
	if err != nil {
		t.Fatalf("resolve by username: %v", err)
	}
	if bob.ID != "9b1f3e2d-1c0a-4d4b-8e7f-6a5b4c3d2e1f" || bob.DisplayName() != "Bob B." {
		t.Fatalf("unexpected bob: %+v", bob)
	}

	if _, err := r.Resolve(ctx, "ghost-user"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.Resolve(ctx, "00000000-0000-0000-0000-000000000000"); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestNewPostgresResolver_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresResolver(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
	if _, err := NewPostgresResolver(&pgxpool.Pool{}, WithSchema("bad-schema;")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("TUTHUB_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: TUTHUB_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse TUTHUB_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (TUTHUB_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "tuthub_it_" + strings.ToLower(id)

	mustExec(t, pool, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize())
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()
	mustExec(t, pool, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustExec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}
