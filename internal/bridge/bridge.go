// Package bridge moves transfers between a sender's wallet and a
// recipient's through the mailbox.
//
// A staged transfer is a mailbox message carrying the transaction and the
// key material the recipient needs to spend the received record. Accepting
// is a two-phase commit keyed by the received outpoint: the output is first
// checked against the token topic, internalized and a receipt written, then
// the message is acknowledged. A
// retry after a failed acknowledgement finds the receipt and only
// re-acknowledges.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/mailbox"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Bridge errors.
var (
	ErrMailboxUnavailable = errors.New("mailbox unavailable")
	ErrMalformedMessage   = errors.New("malformed pending transfer")
)

var prefixReceipt = []byte("r/") // r/<outpoint> -> Receipt JSON

// Body is the mailbox message of a staged transfer.
type Body struct {
	TokenID     types.TokenID   `json:"tokenId"`
	Amount      uint64          `json:"amount"`
	Transaction []byte          `json:"transaction"`
	KeyID       string          `json:"keyID"`
	ProtocolID  crypto.Protocol `json:"protocolID"`
	Sender      string          `json:"sender"`
	OutputIndex uint32          `json:"outputIndex"`
	Label       string          `json:"label,omitempty"`
}

// PendingTransfer is a staged transfer waiting in the recipient's box.
type PendingTransfer struct {
	MessageID   string          `json:"messageId"`
	Identity    types.TokenID   `json:"identity"`
	Label       string          `json:"label"`
	Amount      uint64          `json:"amount"`
	SenderKey   string          `json:"sender"`
	KeyID       string          `json:"keyID"`
	Protocol    crypto.Protocol `json:"protocolID"`
	OutputIndex uint32          `json:"outputIndex"`
	Bundle      *tx.Bundle      `json:"-"`
}

// Outpoint returns the output the transfer delivers.
func (p *PendingTransfer) Outpoint() types.Outpoint {
	return p.Bundle.Subject().Outpoint(p.OutputIndex)
}

// Receipt records a completed internalization.
type Receipt struct {
	MessageID    string         `json:"messageId"`
	Outpoint     types.Outpoint `json:"outpoint"`
	Identity     types.TokenID  `json:"identity"`
	Amount       uint64         `json:"amount"`
	Accepted     time.Time      `json:"accepted"`
	Acknowledged bool           `json:"acknowledged"`
}

// Bridge stages and settles transfers for one wallet.
type Bridge struct {
	mailbox  mailbox.Client
	wallet   wallet.Interface
	overlay  overlay.Broadcaster
	receipts storage.DB
	identity string
}

// New creates a bridge. identity is the wallet's hex identity key, sent as
// the sender of staged transfers. Delivered outputs are only accepted once
// ov reports them admitted to the token topic.
func New(mb mailbox.Client, w wallet.Interface, ov overlay.Broadcaster, receipts storage.DB, identity string) *Bridge {
	return &Bridge{mailbox: mb, wallet: w, overlay: ov, receipts: receipts, identity: identity}
}

// Stage sends the transfer to its recipient's box.
func (b *Bridge) Stage(ctx context.Context, t *token.Transfer) (string, error) {
	body := Body{
		TokenID:     t.Identity,
		Amount:      t.Amount,
		Transaction: t.Bundle.Bytes(),
		KeyID:       t.KeyID,
		ProtocolID:  t.Protocol,
		Sender:      b.identity,
		OutputIndex: token.RecipientOutput,
		Label:       t.Label,
	}
	id, err := b.mailbox.SendMessage(ctx, t.RecipientKey, token.MessageBox, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}
	log.Bridge.Info().
		Str("message", id).
		Str("token", t.Identity.Short()).
		Uint64("amount", t.Amount).
		Msg("Transfer staged")
	return id, nil
}

// ListStaged returns the transfers waiting for this wallet. Messages that
// do not parse are logged and skipped. Listing does not consume messages.
func (b *Bridge) ListStaged(ctx context.Context) ([]PendingTransfer, error) {
	msgs, err := b.mailbox.ListMessages(ctx, token.MessageBox)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}
	pending := make([]PendingTransfer, 0, len(msgs))
	for _, m := range msgs {
		p, err := parse(m)
		if err != nil {
			log.Bridge.Warn().Str("message", m.ID).Err(err).Msg("Skipping malformed pending transfer")
			continue
		}
		pending = append(pending, *p)
	}
	metrics.PendingTransfers.Set(float64(len(pending)))
	return pending, nil
}

func parse(m mailbox.Message) (*PendingTransfer, error) {
	var body Body
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if body.TokenID.IsZero() || body.Amount == 0 {
		return nil, fmt.Errorf("%w: missing token or amount", ErrMalformedMessage)
	}
	if _, err := crypto.ParsePublicKeyHex(body.Sender); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformedMessage, err)
	}
	if _, err := crypto.InvoiceNumber(body.ProtocolID, body.KeyID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	bundle, err := tx.ParseBundle(body.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	subject := bundle.Subject()
	if subject == nil || int(body.OutputIndex) >= len(subject.Outputs) {
		return nil, fmt.Errorf("%w: output %d not in transaction", ErrMalformedMessage, body.OutputIndex)
	}
	label := body.Label
	if label == "" {
		label = token.UnknownLabel
	}
	return &PendingTransfer{
		MessageID:   m.ID,
		Identity:    body.TokenID,
		Label:       label,
		Amount:      body.Amount,
		SenderKey:   body.Sender,
		KeyID:       body.KeyID,
		Protocol:    body.ProtocolID,
		OutputIndex: body.OutputIndex,
		Bundle:      bundle,
	}, nil
}

// Accept internalizes the delivered output and acknowledges the message.
// Replays are safe: an existing receipt skips internalization and the
// wallet ignores outputs it already holds.
func (b *Bridge) Accept(ctx context.Context, p *PendingTransfer) (*Receipt, error) {
	op := p.Outpoint()
	receipt, err := b.receipt(op)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		receipt, err = b.internalize(ctx, p, op)
		if err != nil {
			return nil, err
		}
	}

	if err := b.mailbox.AcknowledgeMessage(ctx, []string{p.MessageID}); err != nil {
		log.Bridge.Warn().Str("message", p.MessageID).Err(err).Msg("Acknowledge failed after accept")
		return receipt, fmt.Errorf("%w: acknowledge: %v", ErrMailboxUnavailable, err)
	}
	receipt.Acknowledged = true
	if err := b.putReceipt(receipt); err != nil {
		return nil, err
	}

	metrics.Accepts.Inc()
	log.Bridge.Info().
		Str("message", p.MessageID).
		Str("outpoint", op.String()).
		Uint64("amount", p.Amount).
		Msg("Transfer accepted")
	return receipt, nil
}

// internalize checks the delivered record against the message and the
// token topic, then stores it in the token basket.
func (b *Bridge) internalize(ctx context.Context, p *PendingTransfer, op types.Outpoint) (*Receipt, error) {
	out := p.Bundle.Subject().Outputs[p.OutputIndex]
	rec, _, err := token.DecodeOutput(out.LockingScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if got := token.EffectiveIdentity(rec, op); got != p.Identity || rec.Amount != p.Amount {
		return nil, fmt.Errorf("%w: output carries %d of %s, message says %d of %s",
			ErrMalformedMessage, rec.Amount, got.Short(), p.Amount, p.Identity.Short())
	}
	if err := b.verifyAdmitted(ctx, p); err != nil {
		return nil, err
	}

	instr, err := token.SpendInstructions{
		Version:      token.InstructionsVersion,
		Protocol:     p.Protocol,
		KeyID:        p.KeyID,
		Counterparty: p.SenderKey,
	}.Encode()
	if err != nil {
		return nil, err
	}
	res, err := b.wallet.InternalizeAction(ctx, wallet.InternalizeActionArgs{
		Bundle: p.Bundle,
		Outputs: []wallet.InternalizeOutput{{
			OutputIndex: p.OutputIndex,
			Protocol:    wallet.ProtocolBasketInsertion,
			Insertion: &wallet.BasketInsertion{
				Basket:             token.Basket,
				CustomInstructions: instr,
				Tags:               token.Tags(token.TagReceived, string(p.Identity)),
			},
		}},
		Description: fmt.Sprintf("Receive %d %s tokens", p.Amount, p.Label),
	})
	if err != nil {
		return nil, fmt.Errorf("internalize: %w", err)
	}
	if res.Duplicate {
		log.Bridge.Debug().Str("outpoint", op.String()).Msg("Output already held")
	}

	receipt := &Receipt{
		MessageID: p.MessageID,
		Outpoint:  op,
		Identity:  p.Identity,
		Amount:    p.Amount,
		Accepted:  time.Now().UTC(),
	}
	if err := b.putReceipt(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// verifyAdmitted resubmits the delivered transaction to the token topic.
// The overlay answers an already admitted transaction with its recorded
// admittance, so this also serves as a lookup.
func (b *Bridge) verifyAdmitted(ctx context.Context, p *PendingTransfer) error {
	steak, err := b.overlay.Send(ctx, overlay.TaggedBEEF{
		Beef:   p.Bundle.Bytes(),
		Topics: []string{token.Topic},
	})
	if err != nil {
		return fmt.Errorf("verify transfer: %w", err)
	}
	if !slices.Contains(steak[token.Topic].OutputsToAdmit, p.OutputIndex) {
		log.Bridge.Warn().
			Str("message", p.MessageID).
			Str("outpoint", p.Outpoint().String()).
			Msg("Delivered output is not admitted to the token topic")
		return fmt.Errorf("%w: output %s not admitted to %s", ErrMalformedMessage, p.Outpoint(), token.Topic)
	}
	return nil
}

// Reject acknowledges the message without taking the output.
func (b *Bridge) Reject(ctx context.Context, p *PendingTransfer) error {
	if err := b.mailbox.AcknowledgeMessage(ctx, []string{p.MessageID}); err != nil {
		return fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}
	metrics.Rejects.Inc()
	log.Bridge.Info().Str("message", p.MessageID).Str("token", p.Identity.Short()).Msg("Transfer rejected")
	return nil
}

// Receipts returns every stored receipt.
func (b *Bridge) Receipts() ([]Receipt, error) {
	out := []Receipt{}
	err := b.receipts.ForEach(prefixReceipt, func(_, value []byte) error {
		var r Receipt
		if err := json.Unmarshal(value, &r); err != nil {
			return nil // Skip corrupt entries.
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (b *Bridge) receipt(op types.Outpoint) (*Receipt, error) {
	data, err := b.receipts.Get(receiptKey(op))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt get: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipt unmarshal: %w", err)
	}
	return &r, nil
}

func (b *Bridge) putReceipt(r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("receipt marshal: %w", err)
	}
	return b.receipts.Put(receiptKey(r.Outpoint), data)
}

func receiptKey(op types.Outpoint) []byte {
	return append(append([]byte(nil), prefixReceipt...), op.String()...)
}
