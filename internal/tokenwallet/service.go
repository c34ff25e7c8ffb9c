// Package tokenwallet is the token wallet service: it ties the builder,
// the overlay, the mailbox bridge and the token registry to one wallet.
package tokenwallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/bridge"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/mailbox"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// ErrPendingNotFound is returned when a message id names no pending transfer.
var ErrPendingNotFound = errors.New("pending transfer not found")

// Namespaces inside the service database.
var (
	prefixReceipts = []byte("receipts/")
	prefixRegistry = []byte("registry/")
)

// Options wires a service.
type Options struct {
	Wallet  wallet.Interface
	Overlay overlay.Broadcaster
	Mailbox mailbox.Client
	// DB holds bridge receipts and the token registry.
	DB storage.DB
}

// Service runs token operations for one wallet. Mutations are serialized;
// reads see the state of the last refresh.
type Service struct {
	mu sync.Mutex

	wallet   wallet.Interface
	builder  *token.Builder
	overlay  overlay.Broadcaster
	bridge   *bridge.Bridge
	registry *token.Store
	identity string

	stateMu  sync.RWMutex
	balances token.Balances
	index    *token.Index
}

// New creates a service and loads the wallet's identity key.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Wallet == nil || opts.Overlay == nil || opts.Mailbox == nil || opts.DB == nil {
		return nil, errors.New("tokenwallet: wallet, overlay, mailbox and db are required")
	}
	pk, err := opts.Wallet.GetPublicKey(ctx, wallet.GetPublicKeyArgs{IdentityKey: true})
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	identity := hex.EncodeToString(pk.PublicKey)

	return &Service{
		wallet:   opts.Wallet,
		builder:  token.NewBuilder(opts.Wallet),
		overlay:  opts.Overlay,
		bridge:   bridge.New(opts.Mailbox, opts.Wallet, opts.Overlay, storage.NewPrefixDB(opts.DB, prefixReceipts), identity),
		registry: token.NewStore(storage.NewPrefixDB(opts.DB, prefixRegistry)),
		identity: identity,
	}, nil
}

// IdentityKey returns the wallet's identity key as hex.
func (s *Service) IdentityKey() string {
	return s.identity
}

// Refresh re-reads the token basket and rebuilds balances and the
// spendable index. Reservations of in-flight transfers carry over.
func (s *Service) Refresh(ctx context.Context) error {
	raw, err := token.ListRawOutputs(ctx, s.wallet)
	if err != nil {
		return err
	}
	balances, ix := token.Aggregate(raw)

	s.stateMu.Lock()
	ix.InheritReservations(s.index)
	s.balances, s.index = balances, ix
	s.stateMu.Unlock()

	added, err := s.registry.Observe(ix)
	if err != nil {
		return fmt.Errorf("token registry: %w", err)
	}
	if added > 0 {
		log.Service.Debug().Int("tokens", added).Msg("New tokens registered")
	}
	return nil
}

// Balances refreshes and returns every holding ordered by label, then
// identity.
func (s *Service) Balances(ctx context.Context) ([]token.Balance, error) {
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.stateMu.RLock()
	out := make([]token.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	s.stateMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Identity < out[j].Identity
	})
	return out, nil
}

// Mint creates a token and submits it to the overlay, which must admit
// exactly the minted output.
func (s *Service) Mint(ctx context.Context, req token.MintRequest) (res *token.MintResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		metrics.Mints.WithLabelValues(metrics.Outcome(err, isRejection)).Inc()
	}()

	res, err = s.builder.Mint(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, res.Bundle, 1, 1); err != nil {
		return nil, fmt.Errorf("mint %s: %w", res.TxID, err)
	}
	if err := s.Refresh(ctx); err != nil {
		log.Service.Warn().Err(err).Msg("Refresh after mint failed")
	}
	return res, nil
}

// SendRequest moves Amount of Token to the holder of Recipient (hex key).
type SendRequest struct {
	Token     types.TokenID
	Amount    uint64
	Recipient string
}

// SendResult reports a delivered transfer.
type SendResult struct {
	TxID      types.Hash    `json:"txid"`
	MessageID string        `json:"messageId"`
	Identity  types.TokenID `json:"identity"`
	Label     string        `json:"label"`
	Amount    uint64        `json:"amount"`
	Change    uint64        `json:"change"`
}

// Send builds and signs the transfer, has the overlay admit it and stages
// it in the recipient's mailbox. The overlay must admit at least one
// output.
func (s *Service) Send(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		metrics.Transfers.WithLabelValues(metrics.Outcome(err, isRejection)).Inc()
	}()

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.stateMu.RLock()
	ix := s.index
	s.stateMu.RUnlock()

	tr, err := s.builder.BuildTransfer(ctx, ix, token.TransferRequest{
		Identity:     req.Token,
		Amount:       req.Amount,
		RecipientKey: req.Recipient,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := s.Refresh(ctx); rerr != nil {
			log.Service.Warn().Err(rerr).Msg("Refresh after send failed")
		}
	}()

	if err := s.submit(ctx, tr.Bundle, 1, overlay.Unbounded); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", tr.TxID, err)
	}
	id, err := s.bridge.Stage(ctx, tr)
	if err != nil {
		log.Service.Error().Str("txid", tr.TxID.String()).Err(err).Msg("Transfer broadcast but not delivered")
		return nil, fmt.Errorf("transfer %s: %w", tr.TxID, err)
	}
	return &SendResult{
		TxID:      tr.TxID,
		MessageID: id,
		Identity:  tr.Identity,
		Label:     tr.Label,
		Amount:    tr.Amount,
		Change:    tr.Change,
	}, nil
}

// Pending lists incoming transfers. An unreachable mailbox yields an empty
// list.
func (s *Service) Pending(ctx context.Context) ([]bridge.PendingTransfer, error) {
	pending, err := s.bridge.ListStaged(ctx)
	if errors.Is(err, bridge.ErrMailboxUnavailable) {
		log.Service.Warn().Err(err).Msg("Mailbox unavailable, no pending transfers listed")
		return []bridge.PendingTransfer{}, nil
	}
	return pending, err
}

// Accept takes the pending transfer with the given message id into the
// wallet.
func (s *Service) Accept(ctx context.Context, messageID string) (*bridge.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findPending(ctx, messageID)
	if err != nil {
		return nil, err
	}
	receipt, err := s.bridge.Accept(ctx, p)
	if rerr := s.Refresh(ctx); rerr != nil {
		log.Service.Warn().Err(rerr).Msg("Refresh after accept failed")
	}
	return receipt, err
}

// Reject discards the pending transfer with the given message id. The
// tokens are not returned to the sender.
func (s *Service) Reject(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.findPending(ctx, messageID)
	if err != nil {
		return err
	}
	return s.bridge.Reject(ctx, p)
}

// Tokens returns every token identity the wallet has held.
func (s *Service) Tokens() ([]token.Info, error) {
	return s.registry.List()
}

func (s *Service) findPending(ctx context.Context, messageID string) (*bridge.PendingTransfer, error) {
	pending, err := s.bridge.ListStaged(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if pending[i].MessageID == messageID {
			return &pending[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPendingNotFound, messageID)
}

// submit sends bundle to the token topic and checks the admitted count.
func (s *Service) submit(ctx context.Context, bundle *tx.Bundle, min, max int) error {
	steak, err := s.overlay.Send(ctx, overlay.TaggedBEEF{
		Beef:   bundle.Bytes(),
		Topics: []string{token.Topic},
	})
	if err != nil {
		return fmt.Errorf("overlay submit: %w", err)
	}
	return overlay.RequireAdmitted(steak, token.Topic, min, max)
}

func isRejection(err error) bool {
	return errors.Is(err, token.ErrBroadcastRejected) ||
		errors.Is(err, token.ErrInsufficientBalance) ||
		errors.Is(err, token.ErrInvalidAmount) ||
		errors.Is(err, token.ErrInvalidRecipient) ||
		errors.Is(err, token.ErrUnknownToken) ||
		errors.Is(err, token.ErrLabelRequired)
}
