package tx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned when serialized transaction bytes cannot be parsed.
var ErrMalformed = errors.New("malformed transaction")

// Bytes serializes the full transaction including unlocking scripts.
// Format: version(4) | input_count(4) | [prevout(36) + unlock_len(4) + unlock]... | output_count(4) | [satoshis(8) + script_len(4) + script]... | locktime(4)
func (tx *Transaction) Bytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.UnlockingScript)))
		buf = append(buf, in.UnlockingScript...)
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

// FromBytes parses a transaction produced by Bytes. Trailing data is an error.
func FromBytes(b []byte) (*Transaction, error) {
	r := reader{buf: b}
	tx, err := r.transaction()
	if err != nil {
		return nil, err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf))
	}
	return tx, nil
}

type reader struct {
	buf []byte
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf) < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, len(r.buf))
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// varBytes reads a length-prefixed byte string, copying it out of the buffer.
func (r *reader) varBytes(limit int) ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(limit) {
		return nil, fmt.Errorf("%w: field of %d bytes exceeds %d", ErrMalformed, n, limit)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

// count reads an element count and checks it against what the remaining
// buffer could possibly hold.
func (r *reader) count(limit, minSize int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(limit) || int64(n)*int64(minSize) > int64(len(r.buf)) {
		return 0, fmt.Errorf("%w: bad element count %d", ErrMalformed, n)
	}
	return int(n), nil
}

func (r *reader) transaction() (*Transaction, error) {
	tx := &Transaction{}
	var err error
	if tx.Version, err = r.u32(); err != nil {
		return nil, err
	}

	nIn, err := r.count(MaxInputs, 40)
	if err != nil {
		return nil, err
	}
	tx.Inputs = make([]Input, nIn)
	for i := range tx.Inputs {
		id, err := r.take(32)
		if err != nil {
			return nil, err
		}
		copy(tx.Inputs[i].PrevOut.TxID[:], id)
		if tx.Inputs[i].PrevOut.Index, err = r.u32(); err != nil {
			return nil, err
		}
		if tx.Inputs[i].UnlockingScript, err = r.varBytes(MaxScriptSize); err != nil {
			return nil, err
		}
	}

	nOut, err := r.count(MaxOutputs, 12)
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]Output, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i].Satoshis, err = r.u64(); err != nil {
			return nil, err
		}
		if tx.Outputs[i].LockingScript, err = r.varBytes(MaxScriptSize); err != nil {
			return nil, err
		}
	}

	if tx.LockTime, err = r.u32(); err != nil {
		return nil, err
	}
	return tx, nil
}
