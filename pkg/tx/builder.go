package tx

import (
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{
		tx: &Transaction{Version: 1},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds an output with a satoshi value and locking script.
func (b *Builder) AddOutput(satoshis uint64, lockingScript []byte) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Satoshis: satoshis, LockingScript: lockingScript})
	return b
}

// SetLockTime sets the transaction lock time.
func (b *Builder) SetLockTime(lockTime uint32) *Builder {
	b.tx.LockTime = lockTime
	return b
}

// Build returns the constructed transaction.
// Does NOT validate; call tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
