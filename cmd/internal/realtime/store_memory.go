package realtime

import (
	"context"
	"sync"
	"time"

	"tuthub/cmd/identity"
)

// InMemoryStore is a dev-only MessageStore used when no durable backend is configured.
type InMemoryStore struct {
	now func() time.Time

	mu    sync.Mutex
	last  time.Time
	rooms map[string][]Message
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	cfg := newStoreConfig(opts)
	return &InMemoryStore{
		now:   cfg.now,
		rooms: make(map[string][]Message),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append implements MessageStore.
func (s *InMemoryStore) Append(ctx context.Context, sender, receiver identity.User, content string) (Message, error) {
	if err := validateAppend(sender, receiver, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := nextTimestamp(s.now(), s.last)
	msg, err := newMessage(sender, receiver, content, ts)
	if err != nil {
		return Message{}, err
	}
	s.last = ts

	s.rooms[msg.RoomKey] = append(s.rooms[msg.RoomKey], msg)

	return msg, nil
}

// ListByRoom implements MessageStore.
func (s *InMemoryStore) ListByRoom(ctx context.Context, userA, userB string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[RoomKey(userA, userB)]
	if len(msgs) == 0 {
		return nil, nil
	}
	return append([]Message(nil), msgs...), nil
}
