package token

import (
	"context"
	"fmt"
	"math"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// RawOutput is a wallet output as listed from the token basket.
type RawOutput struct {
	Outpoint           types.Outpoint
	LockingScript      []byte
	CustomInstructions string
	// Tx is the transaction that created the output.
	Tx *tx.Transaction
}

// Balance is the aggregated holding of one token identity.
type Balance struct {
	Identity types.TokenID `json:"identity"`
	Label    string        `json:"label"`
	Amount   uint64        `json:"amount"`
}

// Balances maps effective identity to holding.
type Balances map[types.TokenID]Balance

// Aggregate decodes outputs into per-identity balances and a spendable
// index. Outputs that do not decode, whose spend instructions are unusable,
// or whose amount would overflow the identity's balance are logged and
// skipped. Every call builds fresh state.
func Aggregate(outputs []RawOutput) (Balances, *Index) {
	balances := make(Balances)
	ix := newIndex()

	for _, out := range outputs {
		rec, _, err := DecodeOutput(out.LockingScript)
		if err != nil {
			skip(out.Outpoint, err)
			continue
		}
		si, err := ParseSpendInstructions(out.CustomInstructions)
		if err != nil {
			skip(out.Outpoint, err)
			continue
		}

		id := EffectiveIdentity(rec, out.Outpoint)
		bal := balances[id]
		if bal.Amount > math.MaxUint64-rec.Amount {
			skip(out.Outpoint, ErrAmountOverflow)
			continue
		}
		bal.Identity = id
		bal.Amount += rec.Amount
		bal.Label = Label(rec.Metadata)
		balances[id] = bal

		ix.add(Spendable{
			Outpoint:      out.Outpoint,
			Identity:      id,
			Record:        rec,
			Instructions:  si,
			LockingScript: out.LockingScript,
			Tx:            out.Tx,
		}, bal.Label)
	}
	return balances, ix
}

func skip(op types.Outpoint, err error) {
	metrics.SkippedRecords.Inc()
	log.Token.Warn().Str("outpoint", op.String()).Err(err).Msg("Skipping undecodable token output")
}

// ListRawOutputs lists the token basket of w with owning transactions.
func ListRawOutputs(ctx context.Context, w wallet.Interface) ([]RawOutput, error) {
	res, err := w.ListOutputs(ctx, wallet.ListOutputsArgs{Basket: Basket, IncludeTransactions: true})
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	raw := make([]RawOutput, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		// A missing owner is tolerated; the wallet resolves it at spend time.
		owner, _ := res.Bundle.Find(o.Outpoint.TxID)
		raw = append(raw, RawOutput{
			Outpoint:           o.Outpoint,
			LockingScript:      o.LockingScript,
			CustomInstructions: o.CustomInstructions,
			Tx:                 owner,
		})
	}
	return raw, nil
}
