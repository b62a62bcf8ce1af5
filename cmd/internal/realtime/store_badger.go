package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tuthub/cmd/identity"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded, durable MessageStore.
//
// Keys are "msg:{room_key}:{unix_nano padded to 19 digits}:{message_id}" so a prefix
// scan returns a room in chronological order. The DB handle is owned by the caller.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time

	// Serializes appends so timestamps are strictly increasing per room.
	mu sync.Mutex
}

type badgerMessage struct {
	ID           string    `json:"id"`
	RoomKey      string    `json:"room_key"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	ReceiverID   string    `json:"receiver_id"`
	ReceiverName string    `json:"receiver_name"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"ts"`
}

// NewBadgerStore constructs a BadgerStore over an open DB.
func NewBadgerStore(db *badger.DB, log *slog.Logger, opts ...StoreOption) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("realtime: nil badger db")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := newStoreConfig(opts)
	return &BadgerStore{db: db, log: log, now: cfg.now}, nil
}

// OpenBadger opens (or creates) a badger database at path with quiet logging.
func OpenBadger(path string) (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
}

// Close is a no-op because the DB is owned by the caller.
func (s *BadgerStore) Close() error { return nil }

func badgerRoomPrefix(roomKey string) []byte {
	return []byte("msg:" + roomKey + ":")
}

func badgerKey(m Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.RoomKey, m.Timestamp.UnixNano(), m.ID))
}

// Append implements MessageStore.
func (s *BadgerStore) Append(ctx context.Context, sender, receiver identity.User, content string) (Message, error) {
	if err := validateAppend(sender, receiver, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var msg Message
	err := s.db.Update(func(txn *badger.Txn) error {
		roomKey := RoomKey(sender.ID, receiver.ID)
		last, err := lastTimestamp(txn, roomKey)
		if err != nil {
			return err
		}

		msg, err = newMessage(sender, receiver, content, nextTimestamp(s.now(), last))
		if err != nil {
			return err
		}

		value, err := json.Marshal(badgerMessage(msg))
		if err != nil {
			return err
		}
		return txn.Set(badgerKey(msg), value)
	})
	if err != nil {
		return Message{}, fmt.Errorf("badger append: %w", err)
	}
	s.log.Debug("store.badger.append", "room_key", msg.RoomKey, "message_id", msg.ID)
	return msg, nil
}

// lastTimestamp returns the newest timestamp stored for roomKey (zero when empty).
func lastTimestamp(txn *badger.Txn, roomKey string) (time.Time, error) {
	prefix := badgerRoomPrefix(roomKey)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the largest possible padded timestamp, then walk back.
	it.Seek(append(append([]byte{}, prefix...), []byte("9999999999999999999;")...))
	if !it.ValidForPrefix(prefix) {
		return time.Time{}, nil
	}

	var bm badgerMessage
	if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &bm) }); err != nil {
		return time.Time{}, err
	}
	return bm.Timestamp.UTC(), nil
}

// ListByRoom implements MessageStore.
func (s *BadgerStore) ListByRoom(ctx context.Context, userA, userB string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := badgerRoomPrefix(RoomKey(userA, userB))

	var msgs []Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var bm badgerMessage
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &bm) }); err != nil {
				return err
			}
			m := Message(bm)
			m.Timestamp = m.Timestamp.UTC()
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	return msgs, nil
}
