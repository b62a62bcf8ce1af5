// Package v1 defines the tuthub direct-chat wire contract, shared by the
// server and its clients.
package v1

import "time"

// TypeChatMessage is the only inbound event kind (client -> server).
const TypeChatMessage = "chat_message"

// TimestampLayout is the ISO-8601 layout used for Delivery.Timestamp (always UTC).
const TimestampLayout = time.RFC3339Nano

// Inbound is a client -> server frame: {"type":"chat_message","message":"..."}.
// Any other type, or an absent message, is dropped by the server.
type Inbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Delivery is the canonical message representation (server -> client).
// Both participants receive it, the sender included.
type Delivery struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Error codes sent in ErrorFrame (server -> originating client only).
const (
	ErrorSendFailed = "send_failed"
	ErrorRateLimit  = "rate_limited"
)

// ErrorFrame reports a best-effort failure to the originating connection.
type ErrorFrame struct {
	Error string `json:"error"`
}

// FormatTimestamp renders ts in the wire layout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}
