package wallet

import (
	"context"
	"errors"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Errors returned by wallet implementations.
var (
	ErrInvalidArgs         = errors.New("invalid wallet arguments")
	ErrUnknownReference    = errors.New("unknown signable transaction reference")
	ErrUnknownInput        = errors.New("input is not a spendable wallet output")
	ErrMissingUnlock       = errors.New("missing unlocking script for input")
	ErrBroadcastFailed     = errors.New("broadcast failed")
	ErrInvalidEvidence     = errors.New("transaction evidence rejected")
	ErrOutputNotFound      = errors.New("output not found in transaction")
	ErrUnsupportedRemit    = errors.New("unsupported internalization protocol")
	ErrInvalidCounterparty = errors.New("invalid counterparty")
)

// ProtocolBasketInsertion is the only internalization protocol supported:
// the received output is stored in a basket with caller-supplied metadata.
const ProtocolBasketInsertion = "basket insertion"

// Interface is the wallet/signer service consumed by the token layer.
type Interface interface {
	GetPublicKey(ctx context.Context, args GetPublicKeyArgs) (*GetPublicKeyResult, error)
	ListOutputs(ctx context.Context, args ListOutputsArgs) (*ListOutputsResult, error)
	CreateAction(ctx context.Context, args CreateActionArgs) (*CreateActionResult, error)
	SignAction(ctx context.Context, args SignActionArgs) (*SignActionResult, error)
	InternalizeAction(ctx context.Context, args InternalizeActionArgs) (*InternalizeActionResult, error)
	CreateSignature(ctx context.Context, args CreateSignatureArgs) (*CreateSignatureResult, error)
}

// KeyArgs selects a derived key: protocol, key id and counterparty, where
// the counterparty is a hex public key, "self" or "anyone".
type KeyArgs struct {
	Protocol     crypto.Protocol
	KeyID        string
	Counterparty string
}

// GetPublicKeyArgs requests either the identity key or a derived key.
// With ForSelf unset the derived key belongs to the counterparty.
type GetPublicKeyArgs struct {
	IdentityKey bool
	KeyArgs
	ForSelf bool
}

type GetPublicKeyResult struct {
	PublicKey []byte
}

// ListOutputsArgs filters the spendable outputs of a basket.
type ListOutputsArgs struct {
	Basket string
	// Tags restricts results to outputs carrying any of the tags.
	Tags                []string
	IncludeTransactions bool
	Limit               int
	Offset              int
}

// Output is a spendable wallet output.
type Output struct {
	Outpoint           types.Outpoint
	Satoshis           uint64
	LockingScript      []byte
	CustomInstructions string
	Tags               []string
}

type ListOutputsResult struct {
	TotalOutputs int
	Outputs      []Output
	// Bundle holds the owning transactions when IncludeTransactions is set.
	Bundle *tx.Bundle
}

type CreateActionInput struct {
	Outpoint              types.Outpoint
	UnlockingScriptLength int
	InputDescription      string
}

// CreateActionOutput is a new output. Outputs with a Basket are tracked by
// the wallet as its own; outputs without one are paid away.
type CreateActionOutput struct {
	Satoshis           uint64
	LockingScript      []byte
	OutputDescription  string
	Basket             string
	CustomInstructions string
	Tags               []string
}

type CreateActionArgs struct {
	Description string
	// InputBundle carries the evidence for every input's source transaction.
	InputBundle *tx.Bundle
	Inputs      []CreateActionInput
	Outputs     []CreateActionOutput
	Labels      []string
}

// SignableTransaction is returned when inputs need caller-supplied
// unlocking scripts.
type SignableTransaction struct {
	Tx        *tx.Transaction
	Reference string
}

// CreateActionResult holds either a completed transaction (TxID and Bundle)
// or a transaction awaiting SignAction.
type CreateActionResult struct {
	TxID     types.Hash
	Bundle   *tx.Bundle
	Signable *SignableTransaction
}

type SignActionSpend struct {
	UnlockingScript []byte
}

type SignActionArgs struct {
	Reference string
	Spends    map[uint32]SignActionSpend
}

type SignActionResult struct {
	TxID   types.Hash
	Bundle *tx.Bundle
}

// BasketInsertion describes how a received output is stored.
type BasketInsertion struct {
	Basket             string
	CustomInstructions string
	Tags               []string
}

type InternalizeOutput struct {
	OutputIndex uint32
	Protocol    string
	Insertion   *BasketInsertion
}

type InternalizeActionArgs struct {
	Bundle      *tx.Bundle
	Outputs     []InternalizeOutput
	Description string
	Labels      []string
}

// InternalizeActionResult reports acceptance. Duplicate is set when every
// output was already known, in which case nothing was written.
type InternalizeActionResult struct {
	Accepted  bool
	Duplicate bool
}

type CreateSignatureArgs struct {
	KeyArgs
	HashToSign []byte
}

type CreateSignatureResult struct {
	Signature []byte
}
