package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/script"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Transfer errors.
var (
	ErrSigningFailed     = errors.New("signing failed")
	ErrBroadcastRejected = errors.New("broadcast rejected")
	ErrInvalidRecipient  = errors.New("invalid recipient key")
	ErrUnknownToken      = errors.New("unknown token identity")
)

// Output positions in a transfer transaction.
const (
	RecipientOutput uint32 = 0
	ChangeOutput    uint32 = 1
)

// unlockingScriptLength is the size reserved for a PushDrop unlocking script.
const unlockingScriptLength = 73

// Builder assembles mint and transfer actions against a wallet.
type Builder struct {
	wallet wallet.Interface
}

// NewBuilder creates a builder over w.
func NewBuilder(w wallet.Interface) *Builder {
	return &Builder{wallet: w}
}

// TransferRequest asks to move Amount of Identity to RecipientKey (hex).
type TransferRequest struct {
	Identity     types.TokenID
	Amount       uint64
	RecipientKey string
}

// Transfer is a signed transfer ready for admission and staging.
type Transfer struct {
	TxID         types.Hash
	Bundle       *tx.Bundle
	Identity     types.TokenID
	Label        string
	Amount       uint64
	Change       uint64
	KeyID        string
	Protocol     crypto.Protocol
	RecipientKey string
	Inputs       []types.Outpoint
}

// RecipientOutpoint returns the outpoint of the recipient's record.
func (t *Transfer) RecipientOutpoint() types.Outpoint {
	return types.Outpoint{TxID: t.TxID, Index: RecipientOutput}
}

// BuildTransfer selects and reserves records from ix, builds the recipient
// and change outputs, and has the wallet sign the spend. The reservation is
// released before returning.
func (b *Builder) BuildTransfer(ctx context.Context, ix *Index, req TransferRequest) (*Transfer, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if _, err := crypto.ParsePublicKeyHex(req.RecipientKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if len(ix.Records(req.Identity)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.Identity)
	}

	res, err := ix.Reserve(req.Identity, req.Amount)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	label := ix.Label(req.Identity)
	keyID, err := NewKeyID()
	if err != nil {
		return nil, err
	}

	// Transfers carry the label entry only.
	metadata := []Field{{ID: LabelFieldID, Name: LabelFieldID, Value: label}}
	identity := []byte(req.Identity)

	recipientLock, err := b.lockFor(ctx, keyID, req.RecipientKey, false, identity, req.Amount, metadata)
	if err != nil {
		return nil, fmt.Errorf("recipient output: %w", err)
	}
	changeLock, err := b.lockFor(ctx, keyID, crypto.CounterpartySelf, true, identity, res.Change, metadata)
	if err != nil {
		return nil, fmt.Errorf("change output: %w", err)
	}

	inFlows := make([]Flow, 0, len(res.Inputs))
	for _, in := range res.Inputs {
		inFlows = append(inFlows, Flow{Identity: in.Identity, Amount: in.Amount()})
	}
	outFlows := []Flow{
		{Identity: req.Identity, Amount: req.Amount},
		{Identity: req.Identity, Amount: res.Change},
	}
	if err := ValidateConservation(inFlows, outFlows); err != nil {
		return nil, err
	}

	changeInstr, err := NewSpendInstructions(keyID, crypto.CounterpartySelf).Encode()
	if err != nil {
		return nil, err
	}

	bundle := tx.NewBundle()
	inputs := make([]wallet.CreateActionInput, 0, len(res.Inputs))
	outpoints := make([]types.Outpoint, 0, len(res.Inputs))
	for _, in := range res.Inputs {
		if in.Tx != nil {
			bundle.Add(in.Tx)
		}
		inputs = append(inputs, wallet.CreateActionInput{
			Outpoint:              in.Outpoint,
			UnlockingScriptLength: unlockingScriptLength,
			InputDescription:      "Token input",
		})
		outpoints = append(outpoints, in.Outpoint)
	}

	created, err := b.wallet.CreateAction(ctx, wallet.CreateActionArgs{
		Description: fmt.Sprintf("Send %d %s tokens", req.Amount, label),
		InputBundle: bundle,
		Inputs:      inputs,
		Outputs: []wallet.CreateActionOutput{
			{
				Satoshis:          OutputSatoshis,
				LockingScript:     recipientLock,
				OutputDescription: "Counterparty token output",
			},
			{
				Satoshis:           OutputSatoshis,
				LockingScript:      changeLock,
				OutputDescription:  "Token change output",
				Basket:             Basket,
				CustomInstructions: changeInstr,
				Tags:               Tags(TagChange, label),
			},
		},
		Labels: ActionLabels(LabelTransfer),
	})
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	if created.Signable == nil {
		return nil, fmt.Errorf("%w: wallet returned no signable transaction", ErrSigningFailed)
	}

	spends, err := b.unlockInputs(ctx, created.Signable.Tx, res.Inputs)
	if err != nil {
		return nil, err
	}

	signed, err := b.wallet.SignAction(ctx, wallet.SignActionArgs{
		Reference: created.Signable.Reference,
		Spends:    spends,
	})
	if errors.Is(err, wallet.ErrBroadcastFailed) {
		return nil, fmt.Errorf("%w: %v", ErrBroadcastRejected, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	log.Token.Info().
		Str("token", req.Identity.Short()).
		Uint64("amount", req.Amount).
		Uint64("change", res.Change).
		Int("inputs", len(res.Inputs)).
		Str("txid", signed.TxID.String()).
		Msg("Transfer signed")

	return &Transfer{
		TxID:         signed.TxID,
		Bundle:       signed.Bundle,
		Identity:     req.Identity,
		Label:        label,
		Amount:       req.Amount,
		Change:       res.Change,
		KeyID:        keyID,
		Protocol:     Protocol,
		RecipientKey: req.RecipientKey,
		Inputs:       outpoints,
	}, nil
}

// lockFor derives the key for counterparty and builds a record output.
func (b *Builder) lockFor(ctx context.Context, keyID, counterparty string, forSelf bool,
	identity []byte, amount uint64, metadata []Field) ([]byte, error) {
	pk, err := b.wallet.GetPublicKey(ctx, wallet.GetPublicKeyArgs{
		KeyArgs: wallet.KeyArgs{Protocol: Protocol, KeyID: keyID, Counterparty: counterparty},
		ForSelf: forSelf,
	})
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	fields, err := EncodeRecord(identity, amount, metadata)
	if err != nil {
		return nil, err
	}
	return script.Lock(pk.PublicKey, fields)
}

// unlockInputs signs every selected input of signable with the key named
// by its spend instructions.
func (b *Builder) unlockInputs(ctx context.Context, signable *tx.Transaction, inputs []Spendable) (map[uint32]wallet.SignActionSpend, error) {
	position := make(map[types.Outpoint]int, len(signable.Inputs))
	for i, in := range signable.Inputs {
		position[in.PrevOut] = i
	}

	spends := make(map[uint32]wallet.SignActionSpend, len(inputs))
	for _, in := range inputs {
		i, ok := position[in.Outpoint]
		if !ok {
			return nil, fmt.Errorf("%w: input %s missing from signable transaction", ErrSigningFailed, in.Outpoint)
		}
		digest := signable.SigHash(i)
		sig, err := b.wallet.CreateSignature(ctx, wallet.CreateSignatureArgs{
			KeyArgs:    in.Instructions.KeyArgs(),
			HashToSign: digest[:],
		})
		if err != nil {
			return nil, fmt.Errorf("%w: input %s: %v", ErrSigningFailed, in.Outpoint, err)
		}
		unlock, err := script.Unlock(sig.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: input %s: %v", ErrSigningFailed, in.Outpoint, err)
		}
		spends[uint32(i)] = wallet.SignActionSpend{UnlockingScript: unlock}
	}
	return spends, nil
}
