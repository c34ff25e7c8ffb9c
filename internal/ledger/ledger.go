// Package ledger is a local stand-in for the chain: it records transactions,
// keeps the unspent output set and checks every spend's PushDrop signature.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/script"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/tx"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Ledger errors.
var (
	ErrEmptyBundle       = errors.New("empty bundle")
	ErrUnknownOutpoint   = errors.New("spent output does not exist")
	ErrDoubleSpend       = errors.New("output already spent")
	ErrBadSignature      = errors.New("unlocking signature does not verify")
	ErrUnsupportedScript = errors.New("unsupported locking script")
)

var (
	prefixTx    = []byte("t/") // t/<txid(32)> -> tx bytes
	prefixSpent = []byte("s/") // s/<txid(32)><index(4)> -> spending txid
	keyHeight   = []byte("m/height")
)

// Ledger applies transactions to a UTXO set.
type Ledger struct {
	mu     sync.Mutex
	db     storage.DB
	utxos  *Store
	height uint64
}

// New opens a ledger over db.
func New(db storage.DB) (*Ledger, error) {
	l := &Ledger{db: db, utxos: NewStore(db)}
	data, err := db.Get(keyHeight)
	switch {
	case err == nil && len(data) == 8:
		l.height = binary.BigEndian.Uint64(data)
	case err == nil:
		return nil, fmt.Errorf("ledger: corrupt height")
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("ledger: load height: %w", err)
	}
	return l, nil
}

// Broadcast applies the bundle's subject. Ancestors the ledger has not seen
// are validated and applied first, in bundle order, so a bundle carrying
// its full ancestry can be replayed on a ledger that never saw it.
// Broadcasting a known subject is a no-op.
func (l *Ledger) Broadcast(_ context.Context, bundle *tx.Bundle) error {
	subject := bundle.Subject()
	if subject == nil {
		return ErrEmptyBundle
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txs := bundle.Transactions()
	for _, parent := range txs[:len(txs)-1] {
		if err := l.accept(parent); err != nil {
			return fmt.Errorf("ancestor %s: %w", parent.Hash(), err)
		}
	}
	return l.accept(subject)
}

// accept validates and applies t unless it is already recorded.
func (l *Ledger) accept(t *tx.Transaction) error {
	known, err := l.hasTx(t.Hash())
	if err != nil || known {
		return err
	}
	if err := l.validate(t); err != nil {
		log.Ledger.Debug().Str("txid", t.Hash().String()).Err(err).Msg("Transaction rejected")
		return err
	}
	return l.apply(t)
}

// validate checks structure, input existence and unlocking signatures.
func (l *Ledger) validate(t *tx.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := t.CheckSigned(); err != nil {
		return err
	}
	for i, in := range t.Inputs {
		u, err := l.utxos.Get(in.PrevOut)
		if err != nil {
			spent, herr := l.db.Has(spentKey(in.PrevOut))
			if herr == nil && spent {
				return fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrDoubleSpend)
			}
			return fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrUnknownOutpoint)
		}
		owner, ok := u.Owner()
		if !ok {
			return fmt.Errorf("input %d: %w", i, ErrUnsupportedScript)
		}
		sig, err := script.Signature(in.UnlockingScript)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		digest := t.SigHash(i)
		if !crypto.VerifySignature(digest[:], sig, owner) {
			return fmt.Errorf("input %d: %w", i, ErrBadSignature)
		}
	}
	return nil
}

// apply records t, spends its inputs and adds its outputs.
func (l *Ledger) apply(t *tx.Transaction) error {
	txid := t.Hash()
	batch := storage.NewBatch(l.db)
	for _, in := range t.Inputs {
		if err := l.utxos.Delete(batch, in.PrevOut); err != nil {
			return err
		}
		if err := batch.Put(spentKey(in.PrevOut), txid.Bytes()); err != nil {
			return err
		}
	}
	height := l.height + 1
	for i, out := range t.Outputs {
		u := &UTXO{
			Outpoint:      types.Outpoint{TxID: txid, Index: uint32(i)},
			Satoshis:      out.Satoshis,
			LockingScript: out.LockingScript,
			Height:        height,
		}
		if err := l.utxos.Put(batch, u); err != nil {
			return err
		}
	}
	if err := batch.Put(txKey(txid), t.Bytes()); err != nil {
		return err
	}
	if err := batch.Put(keyHeight, binary.BigEndian.AppendUint64(nil, height)); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	l.height = height

	log.Ledger.Debug().
		Str("txid", txid.String()).
		Uint64("height", height).
		Msg("Transaction applied")
	return nil
}

// Transaction returns a recorded transaction.
func (l *Ledger) Transaction(id types.Hash) (*tx.Transaction, error) {
	raw, err := l.db.Get(txKey(id))
	if err != nil {
		return nil, fmt.Errorf("ledger tx %s: %w", id, err)
	}
	return tx.FromBytes(raw)
}

// HasTransaction reports whether id has been recorded.
func (l *Ledger) HasTransaction(id types.Hash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasTx(id)
}

func (l *Ledger) hasTx(id types.Hash) (bool, error) {
	return l.db.Has(txKey(id))
}

// Unspent returns the UTXO at op.
func (l *Ledger) Unspent(op types.Outpoint) (*UTXO, error) {
	return l.utxos.Get(op)
}

// UnspentByOwner returns the outputs locked to pubKey.
func (l *Ledger) UnspentByOwner(pubKey []byte) ([]*UTXO, error) {
	return l.utxos.GetByOwner(pubKey)
}

// Info summarizes the ledger state.
type Info struct {
	Height     uint64     `json:"height"`
	Unspent    int        `json:"unspent"`
	Commitment types.Hash `json:"commitment"`
}

// Info returns the height, unspent count and UTXO commitment.
func (l *Ledger) Info() (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	if err := l.utxos.ForEach(func(*UTXO) error { n++; return nil }); err != nil {
		return nil, err
	}
	root, err := Commitment(l.utxos)
	if err != nil {
		return nil, err
	}
	return &Info{Height: l.height, Unspent: n, Commitment: root}, nil
}

func txKey(id types.Hash) []byte {
	return append(append([]byte(nil), prefixTx...), id[:]...)
}

func spentKey(op types.Outpoint) []byte {
	key := append(append([]byte(nil), prefixSpent...), op.TxID[:]...)
	return binary.BigEndian.AppendUint32(key, op.Index)
}
