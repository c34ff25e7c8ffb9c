package token

import (
	"errors"
	"fmt"
	"math"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Token validation errors.
var (
	ErrConservation      = errors.New("token conservation violated")
	ErrMintZeroAmount    = errors.New("mint amount must be positive")
	ErrUnknownTokenSpend = errors.New("input is not a known token record")
	ErrNoTokenOutputs    = errors.New("transaction has no token outputs")
)

// Flow is an amount of one identity entering or leaving a transaction.
type Flow struct {
	Identity types.TokenID
	Amount   uint64
}

// ValidateConservation checks that, per identity, the inputs sum to the
// outputs.
func ValidateConservation(inputs, outputs []Flow) error {
	inTotals, err := sumFlows(inputs, "input")
	if err != nil {
		return err
	}
	outTotals, err := sumFlows(outputs, "output")
	if err != nil {
		return err
	}

	all := make(map[types.TokenID]bool, len(inTotals)+len(outTotals))
	for id := range inTotals {
		all[id] = true
	}
	for id := range outTotals {
		all[id] = true
	}
	for id := range all {
		if inTotals[id] != outTotals[id] {
			return fmt.Errorf("token %s: %w: input=%d output=%d",
				id.Short(), ErrConservation, inTotals[id], outTotals[id])
		}
	}
	return nil
}

func sumFlows(flows []Flow, side string) (map[types.TokenID]uint64, error) {
	totals := make(map[types.TokenID]uint64)
	for _, f := range flows {
		current := totals[f.Identity]
		if current > math.MaxUint64-f.Amount {
			return nil, fmt.Errorf("token %s: %s %w", f.Identity.Short(), side, ErrAmountOverflow)
		}
		totals[f.Identity] = current + f.Amount
	}
	return totals, nil
}

// InputRecords resolves the token records spent by a transaction.
type InputRecords interface {
	// TokenInput returns the effective identity and amount of the record
	// at outpoint, or ok=false if outpoint holds no known record.
	TokenInput(outpoint types.Outpoint) (id types.TokenID, amount uint64, ok bool)
}

// ValidateTransaction checks the token rules for a transaction and returns
// the indices of its token outputs. Every input must be a known token
// record. Mint outputs must carry a positive amount; their identity is
// their own outpoint so they never take part in conservation. All other
// token outputs must conserve the input amounts per identity. Outputs that
// do not decode as token records are ignored.
func ValidateTransaction(transaction *tx.Transaction, inputs InputRecords) ([]uint32, error) {
	var inFlows []Flow
	for i, in := range transaction.Inputs {
		id, amount, ok := inputs.TokenInput(in.PrevOut)
		if !ok {
			return nil, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrUnknownTokenSpend)
		}
		inFlows = append(inFlows, Flow{Identity: id, Amount: amount})
	}

	var (
		outFlows []Flow
		admitted []uint32
	)
	txid := transaction.Hash()
	for i, out := range transaction.Outputs {
		rec, _, err := DecodeOutput(out.LockingScript)
		if err != nil {
			continue
		}
		op := types.Outpoint{TxID: txid, Index: uint32(i)}
		if rec.IsMint() {
			if rec.Amount == 0 {
				return nil, fmt.Errorf("output %d: %w", i, ErrMintZeroAmount)
			}
		} else {
			outFlows = append(outFlows, Flow{Identity: EffectiveIdentity(rec, op), Amount: rec.Amount})
		}
		admitted = append(admitted, uint32(i))
	}
	if len(admitted) == 0 {
		return nil, ErrNoTokenOutputs
	}

	if err := ValidateConservation(inFlows, outFlows); err != nil {
		return nil, err
	}
	return admitted, nil
}
