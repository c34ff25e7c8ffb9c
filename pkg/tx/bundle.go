package tx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// bundleMagic prefixes every serialized bundle.
var bundleMagic = [4]byte{'T', 'K', 'B', '1'}

// MaxBundleTxs bounds the number of transactions accepted in a bundle.
const MaxBundleTxs = 10000

// ErrTxNotInBundle is returned when a bundle lacks a requested transaction.
var ErrTxNotInBundle = errors.New("transaction not in bundle")

// Bundle is an evidence bundle: a transaction together with the ancestors
// needed to check the outputs it spends. Transactions are kept in insertion
// order with parents before children; the last one is the subject.
type Bundle struct {
	txs   []*Transaction
	index map[types.Hash]int
}

// NewBundle creates a bundle holding txs in order.
func NewBundle(txs ...*Transaction) *Bundle {
	b := &Bundle{index: make(map[types.Hash]int)}
	for _, t := range txs {
		b.Add(t)
	}
	return b
}

// Add appends tx unless a transaction with the same ID is already present.
func (b *Bundle) Add(t *Transaction) {
	if b.index == nil {
		b.index = make(map[types.Hash]int)
	}
	id := t.Hash()
	if i, ok := b.index[id]; ok {
		// Prefer the copy that carries unlocking scripts.
		if b.txs[i].CheckSigned() != nil && t.CheckSigned() == nil {
			b.txs[i] = t
		}
		return
	}
	b.index[id] = len(b.txs)
	b.txs = append(b.txs, t)
}

// Merge adds every transaction of other that b does not already hold.
func (b *Bundle) Merge(other *Bundle) {
	if other == nil {
		return
	}
	for _, t := range other.txs {
		b.Add(t)
	}
}

// Find returns the transaction with the given ID.
func (b *Bundle) Find(id types.Hash) (*Transaction, error) {
	if b == nil {
		return nil, ErrTxNotInBundle
	}
	i, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotInBundle, id)
	}
	return b.txs[i], nil
}

// Subject returns the last transaction added, or nil for an empty bundle.
func (b *Bundle) Subject() *Transaction {
	if b == nil || len(b.txs) == 0 {
		return nil
	}
	return b.txs[len(b.txs)-1]
}

// Transactions returns the bundle's transactions in order.
func (b *Bundle) Transactions() []*Transaction {
	if b == nil {
		return nil
	}
	out := make([]*Transaction, len(b.txs))
	copy(out, b.txs)
	return out
}

// Len returns the number of transactions in the bundle.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.txs)
}

// Bytes serializes the bundle.
// Format: magic(4) | tx_count(4) | [tx_len(4) + tx]...
func (b *Bundle) Bytes() []byte {
	buf := append([]byte(nil), bundleMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Len()))
	for _, t := range b.Transactions() {
		raw := t.Bytes()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))
		buf = append(buf, raw...)
	}
	return buf
}

// ParseBundle decodes bytes produced by Bundle.Bytes.
func ParseBundle(data []byte) (*Bundle, error) {
	r := reader{buf: data}
	magic, err := r.take(4)
	if err != nil {
		return nil, err
	}
	if [4]byte(magic) != bundleMagic {
		return nil, fmt.Errorf("%w: bad bundle magic %x", ErrMalformed, magic)
	}
	n, err := r.count(MaxBundleTxs, 4)
	if err != nil {
		return nil, err
	}
	b := NewBundle()
	for i := 0; i < n; i++ {
		raw, err := r.varBytes(len(r.buf))
		if err != nil {
			return nil, fmt.Errorf("bundle tx %d: %w", i, err)
		}
		t, err := FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("bundle tx %d: %w", i, err)
		}
		b.Add(t)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf))
	}
	return b, nil
}
