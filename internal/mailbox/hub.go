package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

var (
	prefixMessage = []byte("m/") // m/<recipient>/<box>/<id> -> Message JSON
	prefixID      = []byte("i/") // i/<id> -> message key
)

// maxBoxLength bounds message box names.
const maxBoxLength = 128

// Hub stores messages for any number of identities. Message ids are
// time-ordered so a box lists oldest first.
type Hub struct {
	db storage.DB
}

// NewHub creates a hub over db.
func NewHub(db storage.DB) *Hub {
	return &Hub{db: db}
}

// For returns a client acting as identity (hex public key).
func (h *Hub) For(identity string) Client {
	return &hubClient{hub: h, identity: identity}
}

// Send stores a message from sender to recipient.
func (h *Hub) Send(sender, recipient, box string, body json.RawMessage) (string, error) {
	if _, err := crypto.ParsePublicKeyHex(recipient); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if err := checkBox(box); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("message id: %w", err)
	}
	msg := Message{
		ID:        id.String(),
		Sender:    sender,
		Recipient: recipient,
		Box:       box,
		Body:      body,
		Created:   time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("message marshal: %w", err)
	}
	key := messageKey(recipient, box, msg.ID)
	batch := storage.NewBatch(h.db)
	if err := batch.Put(key, data); err != nil {
		return "", err
	}
	if err := batch.Put(idKey(msg.ID), key); err != nil {
		return "", err
	}
	if err := batch.Commit(); err != nil {
		return "", fmt.Errorf("message store: %w", err)
	}
	log.Mailbox.Debug().Str("id", msg.ID).Str("box", box).Msg("Message stored")
	return msg.ID, nil
}

// List returns the messages in recipient's box.
func (h *Hub) List(recipient, box string) ([]Message, error) {
	if err := checkBox(box); err != nil {
		return nil, err
	}
	msgs := []Message{}
	err := h.db.ForEach(messageKey(recipient, box, ""), func(_, value []byte) error {
		var m Message
		if err := json.Unmarshal(value, &m); err != nil {
			log.Mailbox.Warn().Err(err).Msg("Skipping corrupt message")
			return nil
		}
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Acknowledge deletes the messages in ids addressed to recipient.
func (h *Hub) Acknowledge(recipient string, ids []string) error {
	batch := storage.NewBatch(h.db)
	for _, id := range ids {
		key, err := h.db.Get(idKey(id))
		if err != nil {
			continue
		}
		if !strings.HasPrefix(string(key), string(prefixMessage)+recipient+"/") {
			continue
		}
		if err := batch.Delete(key); err != nil {
			return err
		}
		if err := batch.Delete(idKey(id)); err != nil {
			return err
		}
	}
	return batch.Commit()
}

func checkBox(box string) error {
	if box == "" || len(box) > maxBoxLength || strings.Contains(box, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidBox, box)
	}
	return nil
}

func messageKey(recipient, box, id string) []byte {
	return []byte(string(prefixMessage) + recipient + "/" + box + "/" + id)
}

func idKey(id string) []byte {
	return append(append([]byte(nil), prefixID...), id...)
}

type hubClient struct {
	hub      *Hub
	identity string
}

func (c *hubClient) SendMessage(_ context.Context, recipient, box string, body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("message body: %w", err)
	}
	return c.hub.Send(c.identity, recipient, box, data)
}

func (c *hubClient) ListMessages(_ context.Context, box string) ([]Message, error) {
	return c.hub.List(c.identity, box)
}

func (c *hubClient) AcknowledgeMessage(_ context.Context, ids []string) error {
	return c.hub.Acknowledge(c.identity, ids)
}
