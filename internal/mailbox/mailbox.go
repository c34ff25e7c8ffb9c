// Package mailbox delivers store-and-forward messages between identities.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Mailbox errors.
var (
	ErrUnavailable      = errors.New("mailbox unavailable")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrInvalidBox       = errors.New("invalid message box")
)

// Message is a stored message.
type Message struct {
	ID        string          `json:"messageId"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Box       string          `json:"messageBox"`
	Body      json.RawMessage `json:"body"`
	Created   time.Time       `json:"created"`
}

// Client is a mailbox bound to one identity.
type Client interface {
	// SendMessage stores body in the recipient's box and returns its id.
	SendMessage(ctx context.Context, recipient, box string, body any) (string, error)
	// ListMessages returns the messages in one of the caller's boxes, oldest first.
	ListMessages(ctx context.Context, box string) ([]Message, error)
	// AcknowledgeMessage deletes messages addressed to the caller. Unknown
	// ids are ignored.
	AcknowledgeMessage(ctx context.Context, ids []string) error
}
