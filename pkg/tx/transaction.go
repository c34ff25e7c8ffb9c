// Package tx defines the transaction model shared by the wallet, the overlay
// and the local ledger.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Transaction spends previous outputs and creates new ones.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"locktime"`
}

// Input references an output being spent.
type Input struct {
	PrevOut         types.Outpoint `json:"prevout"`
	UnlockingScript []byte         `json:"unlockingScript"`
}

// Output locks satoshis to a script.
type Output struct {
	Satoshis      uint64 `json:"satoshis"`
	LockingScript []byte `json:"lockingScript"`
}

type inputJSON struct {
	PrevOut         types.Outpoint `json:"prevout"`
	UnlockingScript string         `json:"unlockingScript,omitempty"`
}

// MarshalJSON encodes the input with a hex-encoded unlocking script.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		PrevOut:         in.PrevOut,
		UnlockingScript: hex.EncodeToString(in.UnlockingScript),
	})
}

// UnmarshalJSON decodes an input with a hex-encoded unlocking script.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.UnlockingScript)
	if err != nil {
		return fmt.Errorf("unlocking script: %w", err)
	}
	in.PrevOut = j.PrevOut
	in.UnlockingScript = b
	if len(b) == 0 {
		in.UnlockingScript = nil
	}
	return nil
}

type outputJSON struct {
	Satoshis      uint64 `json:"satoshis"`
	LockingScript string `json:"lockingScript"`
}

// MarshalJSON encodes the output with a hex-encoded locking script.
func (out Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{
		Satoshis:      out.Satoshis,
		LockingScript: hex.EncodeToString(out.LockingScript),
	})
}

// UnmarshalJSON decodes an output with a hex-encoded locking script.
func (out *Output) UnmarshalJSON(data []byte) error {
	var j outputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.LockingScript)
	if err != nil {
		return fmt.Errorf("locking script: %w", err)
	}
	out.Satoshis = j.Satoshis
	out.LockingScript = b
	return nil
}

// Hash computes the transaction ID (BLAKE3 hash of the signing bytes).
// Unlocking scripts are excluded so the ID is fixed before signing.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// Outpoint returns the outpoint of output index within tx.
func (tx *Transaction) Outpoint(index uint32) types.Outpoint {
	return types.Outpoint{TxID: tx.Hash(), Index: index}
}

// SigningBytes returns the canonical byte representation used for the ID.
// Format: version(4) | input_count(4) | [prevout(36)]... | output_count(4) | [satoshis(8) + script_len(4) + script]... | locktime(4)
func (tx *Transaction) SigningBytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Satoshis)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.LockingScript)))
		buf = append(buf, out.LockingScript...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	return buf
}

// SigHash returns the digest an input's unlocking signature commits to:
// BLAKE3(signing bytes | input_index(4)).
func (tx *Transaction) SigHash(inputIndex int) types.Hash {
	buf := tx.SigningBytes()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(inputIndex))
	return crypto.Hash(buf)
}

// TotalOutputValue returns the sum of all output satoshis.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Satoshis {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Satoshis
	}
	return total, nil
}

// Clone returns a deep copy of the transaction.
func (tx *Transaction) Clone() *Transaction {
	c := &Transaction{Version: tx.Version, LockTime: tx.LockTime}
	c.Inputs = make([]Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		c.Inputs[i] = Input{PrevOut: in.PrevOut, UnlockingScript: append([]byte(nil), in.UnlockingScript...)}
	}
	c.Outputs = make([]Output, len(tx.Outputs))
	for i, out := range tx.Outputs {
		c.Outputs[i] = Output{Satoshis: out.Satoshis, LockingScript: append([]byte(nil), out.LockingScript...)}
	}
	return c
}
