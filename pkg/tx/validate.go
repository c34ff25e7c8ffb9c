package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Structural limits.
const (
	MaxInputs     = 1000
	MaxOutputs    = 1000
	MaxScriptSize = 64 * 1024
)

// Validation errors.
var (
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroOutput         = errors.New("output value is zero")
	ErrMissingUnlock      = errors.New("input missing unlocking script")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptTooLarge     = errors.New("script too large")
	ErrEmptyLockingScript = errors.New("output has empty locking script")
)

// Validate checks transaction structure. A transaction without inputs is
// allowed: token mints create outputs from nothing.
func (tx *Transaction) Validate() error {
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > MaxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), MaxInputs)
	}
	if len(tx.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), MaxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
		if len(in.UnlockingScript) > MaxScriptSize {
			return fmt.Errorf("input %d: %w", i, ErrScriptTooLarge)
		}
	}

	var total uint64
	for i, out := range tx.Outputs {
		if out.Satoshis == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if len(out.LockingScript) == 0 {
			return fmt.Errorf("output %d: %w", i, ErrEmptyLockingScript)
		}
		if len(out.LockingScript) > MaxScriptSize {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptTooLarge, len(out.LockingScript), MaxScriptSize)
		}
		if total > math.MaxUint64-out.Satoshis {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		total += out.Satoshis
	}
	return nil
}

// CheckSigned verifies that every input carries an unlocking script.
func (tx *Transaction) CheckSigned() error {
	for i, in := range tx.Inputs {
		if len(in.UnlockingScript) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingUnlock)
		}
	}
	return nil
}
