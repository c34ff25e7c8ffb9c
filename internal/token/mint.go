package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// ErrLabelRequired is returned when minting without a label.
var ErrLabelRequired = errors.New("token label required")

// MintOutput is the output index of the minted record.
const MintOutput uint32 = 0

// MintRequest describes a new token.
type MintRequest struct {
	Label  string
	Amount uint64
	// Custom entries follow the label entry in the record metadata.
	Custom []Field
}

// MintResult is a created mint.
type MintResult struct {
	TxID     types.Hash
	Bundle   *tx.Bundle
	Identity types.TokenID
	Label    string
	Amount   uint64
	Metadata []Field
}

// Mint creates a token with no inputs. The record carries the mint
// sentinel; its identity is the mint outpoint.
func (b *Builder) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return nil, ErrLabelRequired
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	metadata := make([]Field, 0, len(req.Custom)+1)
	metadata = append(metadata, Field{ID: LabelFieldID, Name: LabelFieldID, Value: label})
	metadata = append(metadata, req.Custom...)

	keyID, err := NewKeyID()
	if err != nil {
		return nil, err
	}
	lock, err := b.lockFor(ctx, keyID, crypto.CounterpartySelf, true, []byte(MintSentinel), req.Amount, metadata)
	if err != nil {
		return nil, fmt.Errorf("mint output: %w", err)
	}
	instr, err := NewSpendInstructions(keyID, crypto.CounterpartySelf).Encode()
	if err != nil {
		return nil, err
	}

	created, err := b.wallet.CreateAction(ctx, wallet.CreateActionArgs{
		Description: fmt.Sprintf("Create %d %s tokens", req.Amount, label),
		Outputs: []wallet.CreateActionOutput{{
			Satoshis:           OutputSatoshis,
			LockingScript:      lock,
			OutputDescription:  "Token output",
			Basket:             Basket,
			CustomInstructions: instr,
			Tags:               Tags(TagMint, label),
		}},
		Labels: ActionLabels(LabelMint),
	})
	if err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}
	if created.Bundle == nil || created.TxID.IsZero() {
		return nil, fmt.Errorf("create action: wallet returned no transaction")
	}

	id := types.TokenID(types.Outpoint{TxID: created.TxID, Index: MintOutput}.String())
	log.Token.Info().
		Str("token", id.Short()).
		Str("label", label).
		Uint64("amount", req.Amount).
		Msg("Token minted")

	return &MintResult{
		TxID:     created.TxID,
		Bundle:   created.Bundle,
		Identity: id,
		Label:    label,
		Amount:   req.Amount,
		Metadata: metadata,
	}, nil
}
