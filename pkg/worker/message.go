package worker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned for control messages with an unrecognized type.
var ErrUnknownMessage = errors.New("unknown control message")

// MessageType identifies a control message.
type MessageType string

const (
	// MessageSkipWaiting promotes a waiting worker immediately.
	MessageSkipWaiting MessageType = "SKIP_WAITING"

	// MessageClearCache deletes both current stores.
	MessageClearCache MessageType = "CLEAR_CACHE"
)

// Message is a control message posted by a page.
type Message struct {
	Type MessageType `json:"type"`
}

// ParseMessage decodes and validates a JSON control message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks the message type.
func (m Message) Validate() error {
	switch m.Type {
	case MessageSkipWaiting, MessageClearCache:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// Event is pushed to connected page clients.
type Event struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// EventControllerChange tells a page that a new worker controls it.
const EventControllerChange = "controllerchange"
