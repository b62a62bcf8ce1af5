package realtime

import (
	"time"

	"tuthub/cmd/identity/ids"
)

// NewConnID returns a ULID used as connection id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewMessageID returns a ULID used as stored message id.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
