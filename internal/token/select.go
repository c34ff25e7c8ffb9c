package token

import (
	"errors"
	"fmt"
	"math"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Selection errors.
var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrAmountOverflow      = errors.New("token amount overflow")
)

// InsufficientBalanceError reports a transfer the holdings cannot cover.
type InsufficientBalanceError struct {
	Identity  types.TokenID
	Label     string
	Requested uint64
	Available uint64
	Shortfall uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: %s (%s): requested %d, available %d, short by %d",
		ErrInsufficientBalance, e.Label, e.Identity.Short(), e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Selection holds the records chosen to fund a transfer.
type Selection struct {
	Inputs []Spendable
	Total  uint64
	Change uint64
}

// SelectRecords picks records in order until their total covers target.
// It does not try to minimize inputs or change.
func SelectRecords(records []Spendable, target uint64) (*Selection, error) {
	if target == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	sel := &Selection{}
	for _, r := range records {
		if sel.Total >= target {
			break
		}
		if sel.Total > math.MaxUint64-r.Amount() {
			return nil, ErrAmountOverflow
		}
		sel.Inputs = append(sel.Inputs, r)
		sel.Total += r.Amount()
	}

	if sel.Total < target {
		return nil, &InsufficientBalanceError{
			Requested: target,
			Available: sel.Total,
			Shortfall: target - sel.Total,
		}
	}
	sel.Change = sel.Total - target
	return sel, nil
}
