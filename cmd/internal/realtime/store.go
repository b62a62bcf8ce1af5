//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_message_store.go -package=mocks

package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"tuthub/cmd/identity"
	v1 "tuthub/contracts/chat/v1"

	"github.com/samber/lo"
)

// ErrEmptyContent is returned by stores for blank message bodies.
// The handler drops such events before they reach a store.
var ErrEmptyContent = errors.New("realtime: empty content")

// Message is an immutable stored chat message.
//
// Display names are captured at append time so history renders without a user lookup.
type Message struct {
	ID           string
	RoomKey      string
	SenderID     string
	SenderName   string
	ReceiverID   string
	ReceiverName string
	Content      string
	Timestamp    time.Time
}

// Delivery returns the canonical wire representation.
func (m Message) Delivery() v1.Delivery {
	return v1.Delivery{
		Sender:    m.SenderName,
		Receiver:  m.ReceiverName,
		Content:   m.Content,
		Timestamp: v1.FormatTimestamp(m.Timestamp),
	}
}

// Deliveries maps messages to their wire representation, preserving order.
func Deliveries(msgs []Message) []v1.Delivery {
	return lo.Map(msgs, func(m Message, _ int) v1.Delivery { return m.Delivery() })
}

// MessageStore is the durable, append-only chat log.
//
// Requirements:
//   - Append assigns the timestamp server-side; timestamps never decrease in
//     insertion order within a room.
//   - ListByRoom returns every message between the two users, in either direction,
//     ordered by ascending timestamp.
type MessageStore interface {
	Append(ctx context.Context, sender, receiver identity.User, content string) (Message, error)
	ListByRoom(ctx context.Context, userA, userB string) ([]Message, error)
	Close() error
}

// StoreOption configures the in-process stores (memory, badger).
type StoreOption func(*storeConfig)

type storeConfig struct {
	now func() time.Time
}

// WithClock overrides the store clock (tests).
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// nextTimestamp returns now in UTC, bumped past last so timestamps stay strictly
// increasing even when the clock stalls or steps back.
func nextTimestamp(now, last time.Time) time.Time {
	ts := now.UTC()
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	return ts
}

func validateAppend(sender, receiver identity.User, content string) error {
	if strings.TrimSpace(sender.ID) == "" || strings.TrimSpace(receiver.ID) == "" {
		return errors.New("realtime: missing sender or receiver")
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

func newMessage(sender, receiver identity.User, content string, ts time.Time) (Message, error) {
	id, err := NewMessageID(ts)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:           id,
		RoomKey:      RoomKey(sender.ID, receiver.ID),
		SenderID:     sender.ID,
		SenderName:   sender.DisplayName(),
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.DisplayName(),
		Content:      content,
		Timestamp:    ts,
	}, nil
}
