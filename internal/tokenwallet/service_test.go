package tokenwallet

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/bridge"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/ledger"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/mailbox"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

type network struct {
	ledger *ledger.Ledger
	engine *overlay.LocalEngine
	hub    *mailbox.Hub
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	l, err := ledger.New(storage.NewMemory())
	require.NoError(t, err)
	return &network{
		ledger: l,
		engine: overlay.NewLocalEngine(storage.NewMemory(), l),
		hub:    mailbox.NewHub(storage.NewMemory()),
	}
}

func (n *network) service(t *testing.T, ov overlay.Broadcaster, mb func(id string) mailbox.Client) *Service {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w, err := wallet.NewLocal(key, storage.NewMemory(), n.ledger)
	require.NoError(t, err)
	if ov == nil {
		ov = n.engine
	}
	client := n.hub.For(key.PublicKeyHex())
	if mb != nil {
		client = mb(key.PublicKeyHex())
	}
	s, err := New(context.Background(), Options{Wallet: w, Overlay: ov, Mailbox: client, DB: storage.NewMemory()})
	require.NoError(t, err)
	return s
}

func balanceOf(t *testing.T, s *Service, id string) token.Balance {
	t.Helper()
	bals, err := s.Balances(context.Background())
	require.NoError(t, err)
	for _, b := range bals {
		if string(b.Identity) == id {
			return b
		}
	}
	return token.Balance{}
}

func TestService_MintSendAccept(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := n.service(t, nil, nil)
	bob := n.service(t, nil, nil)

	minted, err := alice.Mint(ctx, token.MintRequest{Label: "Credits", Amount: 10000})
	require.NoError(t, err)
	id := string(minted.Identity)
	assert.Equal(t, uint64(10000), balanceOf(t, alice, id).Amount)

	sent, err := alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 4000, Recipient: bob.IdentityKey()})
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), sent.Change)
	assert.NotEmpty(t, sent.MessageID)
	assert.Equal(t, uint64(6000), balanceOf(t, alice, id).Amount)

	pending, err := bob.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, alice.IdentityKey(), pending[0].SenderKey)
	assert.Equal(t, "Credits", pending[0].Label)

	receipt, err := bob.Accept(ctx, pending[0].MessageID)
	require.NoError(t, err)
	assert.True(t, receipt.Acknowledged)

	got := balanceOf(t, bob, id)
	assert.Equal(t, uint64(4000), got.Amount)
	assert.Equal(t, "Credits", got.Label)

	// Bob can pass received tokens on, and the overlay admits the spend.
	back, err := bob.Send(ctx, SendRequest{Token: minted.Identity, Amount: 1500, Recipient: alice.IdentityKey()})
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), back.Change)
	assert.True(t, n.engine.Admitted(types.Outpoint{TxID: back.TxID, Index: token.RecipientOutput}))

	tokens, err := bob.Tokens()
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, minted.Identity, tokens[0].Identity)
	assert.Equal(t, "Credits", tokens[0].Label)
}

func TestService_Reject(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := n.service(t, nil, nil)
	bob := n.service(t, nil, nil)

	minted, err := alice.Mint(ctx, token.MintRequest{Label: "Gold", Amount: 10})
	require.NoError(t, err)
	_, err = alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 10, Recipient: bob.IdentityKey()})
	require.NoError(t, err)

	pending, err := bob.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, bob.Reject(ctx, pending[0].MessageID))

	pending, err = bob.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Zero(t, balanceOf(t, bob, string(minted.Identity)).Amount)
	assert.Zero(t, balanceOf(t, alice, string(minted.Identity)).Amount)

	assert.ErrorIs(t, bob.Reject(ctx, "missing"), ErrPendingNotFound)
	_, err = bob.Accept(ctx, "missing")
	assert.ErrorIs(t, err, ErrPendingNotFound)
}

func TestService_InsufficientBalance(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := n.service(t, nil, nil)
	bob := n.service(t, nil, nil)

	minted, err := alice.Mint(ctx, token.MintRequest{Label: "Credits", Amount: 100})
	require.NoError(t, err)

	_, err = alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 150, Recipient: bob.IdentityKey()})
	var ibe *token.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, uint64(150), ibe.Requested)
	assert.Equal(t, uint64(100), ibe.Available)
	assert.Equal(t, "Credits", ibe.Label)
	assert.Contains(t, err.Error(), "Credits")
	assert.Equal(t, uint64(100), balanceOf(t, alice, string(minted.Identity)).Amount)
}

// refusingOverlay admits nothing.
type refusingOverlay struct{}

func (refusingOverlay) Send(_ context.Context, tagged overlay.TaggedBEEF) (overlay.STEAK, error) {
	steak := overlay.STEAK{}
	for _, topic := range tagged.Topics {
		steak[topic] = overlay.AdmittanceInstructions{}
	}
	return steak, nil
}

func TestService_MintRejectedByOverlay(t *testing.T) {
	n := newNetwork(t)
	alice := n.service(t, refusingOverlay{}, nil)

	before := testutil.ToFloat64(metrics.Mints.WithLabelValues(metrics.ResultRejected))
	_, err := alice.Mint(context.Background(), token.MintRequest{Label: "Credits", Amount: 5})
	assert.ErrorIs(t, err, token.ErrBroadcastRejected)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Mints.WithLabelValues(metrics.ResultRejected)))
}

// downMailbox fails every call.
type downMailbox struct{}

func (downMailbox) SendMessage(context.Context, string, string, any) (string, error) {
	return "", errors.New("connection refused")
}

func (downMailbox) ListMessages(context.Context, string) ([]mailbox.Message, error) {
	return nil, errors.New("connection refused")
}

func (downMailbox) AcknowledgeMessage(context.Context, []string) error {
	return errors.New("connection refused")
}

func TestService_MailboxDown(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	down := func(string) mailbox.Client { return downMailbox{} }
	alice := n.service(t, nil, down)
	bob := n.service(t, nil, nil)

	pending, err := alice.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	minted, err := alice.Mint(ctx, token.MintRequest{Label: "Credits", Amount: 50})
	require.NoError(t, err)
	_, err = alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 20, Recipient: bob.IdentityKey()})
	assert.ErrorIs(t, err, bridge.ErrMailboxUnavailable)

	_, err = alice.Accept(ctx, "any")
	assert.ErrorIs(t, err, bridge.ErrMailboxUnavailable)
}

func TestService_SendValidation(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := n.service(t, nil, nil)
	minted, err := alice.Mint(ctx, token.MintRequest{Label: "Credits", Amount: 50})
	require.NoError(t, err)

	_, err = alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 1, Recipient: "nope"})
	assert.ErrorIs(t, err, token.ErrInvalidRecipient)
	_, err = alice.Send(ctx, SendRequest{Token: "unknown.0", Amount: 1, Recipient: alice.IdentityKey()})
	assert.ErrorIs(t, err, token.ErrUnknownToken)
	_, err = alice.Send(ctx, SendRequest{Token: minted.Identity, Amount: 0, Recipient: alice.IdentityKey()})
	assert.ErrorIs(t, err, token.ErrInvalidAmount)
}
