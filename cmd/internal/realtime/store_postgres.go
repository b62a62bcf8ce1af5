// Package realtime contains the tuthub direct-chat WebSocket handler, room directory,
// fan-out bus and message persistence.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tuthub/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Concurrency model:
//   - Appends take a per-room transactional advisory lock, so created_at is strictly
//     increasing within a room even across concurrent writers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "tuthub").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tuthub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema, messages table and room index when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	messages := pgIdent(s.schema, "messages")
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			id            text PRIMARY KEY,
			room_key      text NOT NULL,
			sender_id     text NOT NULL,
			sender_name   text NOT NULL,
			receiver_id   text NOT NULL,
			receiver_name text NOT NULL,
			content       text NOT NULL CHECK (content <> ''),
			created_at    timestamptz NOT NULL,
			seq           bigserial NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_room_created_idx ON ` + messages + ` (room_key, created_at, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Append implements MessageStore. The timestamp comes from the database clock.
func (s *PostgresStore) Append(ctx context.Context, sender, receiver identity.User, content string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("realtime: nil store")
	}
	if err := validateAppend(sender, receiver, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	// The id only needs to be unique; created_at below is authoritative.
	msg, err := newMessage(sender, receiver, content, time.Now().UTC())
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, msg.RoomKey); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	// GREATEST ignores NULL, so the first message in a room takes clock_timestamp().
	var ts time.Time
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     id, room_key, sender_id, sender_name, receiver_id, receiver_name, content, created_at
		   ) VALUES (
		     $1, $2, $3, $4, $5, $6, $7,
		     GREATEST(
		       clock_timestamp(),
		       (SELECT max(created_at) FROM `+messages+` WHERE room_key = $2) + interval '1 microsecond'
		     )
		   )
		 RETURNING created_at`,
		msg.ID, msg.RoomKey, msg.SenderID, msg.SenderName, msg.ReceiverID, msg.ReceiverName, msg.Content,
	).Scan(&ts); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	msg.Timestamp = ts.UTC()
	return msg, nil
}

// ListByRoom implements MessageStore.
func (s *PostgresStore) ListByRoom(ctx context.Context, userA, userB string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, room_key, sender_id, sender_name, receiver_id, receiver_name, content, created_at
		   FROM `+messages+`
		  WHERE room_key = $1
		  ORDER BY created_at ASC, seq ASC`,
		RoomKey(userA, userB),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.RoomKey,
			&m.SenderID,
			&m.SenderName,
			&m.ReceiverID,
			&m.ReceiverName,
			&m.Content,
			&m.Timestamp,
		); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
