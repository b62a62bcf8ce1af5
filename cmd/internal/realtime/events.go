package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	v1 "tuthub/contracts/chat/v1"

	"github.com/go-playground/validator/v10"
)

// chatEvent is a decoded inbound frame. Text is kept as sent; Body is its
// trimmed form, used only to reject blank messages.
type chatEvent struct {
	Kind string `validate:"required,eq=chat_message"`
	Text string `validate:"max=4000"`
	Body string `validate:"required"`
}

var eventValidate = validator.New(validator.WithRequiredStructEnabled())

// decodeChatEvent parses and validates one inbound frame. Any error means the
// frame is malformed and must be dropped without closing the connection.
func decodeChatEvent(data []byte) (chatEvent, error) {
	var in v1.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return chatEvent{}, fmt.Errorf("decode: %w", err)
	}

	ev := chatEvent{
		Kind: strings.TrimSpace(in.Type),
		Text: in.Message,
		Body: strings.TrimSpace(in.Message),
	}
	if err := eventValidate.Struct(ev); err != nil {
		return chatEvent{}, fmt.Errorf("validate: %w", err)
	}
	return ev, nil
}
