package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/script"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// Key prefixes for the UTXO store.
var (
	prefixUTXO = []byte("u/") // u/<txid><index> -> UTXO JSON
	prefixKey  = []byte("k/") // k/<pubkey33><txid><index> -> empty (owner index)
)

// compressedPubKeySize is the length of a compressed secp256k1 public key.
const compressedPubKeySize = 33

// UTXO is an unspent output on the ledger.
type UTXO struct {
	Outpoint      types.Outpoint `json:"outpoint"`
	Satoshis      uint64         `json:"satoshis"`
	LockingScript []byte         `json:"lockingScript"`
	Height        uint64         `json:"height"`
}

// Owner returns the key a PushDrop output is locked to.
func (u *UTXO) Owner() ([]byte, bool) {
	pd, err := script.Decode(u.LockingScript)
	if err != nil {
		return nil, false
	}
	return pd.PubKey, true
}

// Store keeps the unspent output set in a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a UTXO store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// utxoKey builds a storage key for an outpoint: "u/" + txid(32) + index(4).
func utxoKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixUTXO)+types.HashSize+4)
	copy(key, prefixUTXO)
	copy(key[len(prefixUTXO):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixUTXO)+types.HashSize:], op.Index)
	return key
}

// ownerKey builds an owner index key: "k/" + pubkey(33) + txid(32) + index(4).
func ownerKey(pubKey []byte, op types.Outpoint) []byte {
	key := make([]byte, len(prefixKey)+compressedPubKeySize+types.HashSize+4)
	copy(key, prefixKey)
	copy(key[len(prefixKey):], pubKey)
	off := len(prefixKey) + compressedPubKeySize
	copy(key[off:], op.TxID[:])
	binary.BigEndian.PutUint32(key[off+types.HashSize:], op.Index)
	return key
}

// Get retrieves a UTXO by its outpoint.
func (s *Store) Get(outpoint types.Outpoint) (*UTXO, error) {
	data, err := s.db.Get(utxoKey(outpoint))
	if err != nil {
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	var u UTXO
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("utxo unmarshal: %w", err)
	}
	return &u, nil
}

// Put stores a UTXO and updates the owner index.
func (s *Store) Put(batch storage.Batch, u *UTXO) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("utxo marshal: %w", err)
	}
	if err := batch.Put(utxoKey(u.Outpoint), data); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}
	if owner, ok := u.Owner(); ok {
		if err := batch.Put(ownerKey(owner, u.Outpoint), []byte{}); err != nil {
			return fmt.Errorf("utxo index put: %w", err)
		}
	}
	return nil
}

// Delete removes a UTXO and its owner index entry.
func (s *Store) Delete(batch storage.Batch, outpoint types.Outpoint) error {
	if u, err := s.Get(outpoint); err == nil {
		if owner, ok := u.Owner(); ok {
			if err := batch.Delete(ownerKey(owner, outpoint)); err != nil {
				return err
			}
		}
	}
	if err := batch.Delete(utxoKey(outpoint)); err != nil {
		return fmt.Errorf("utxo delete: %w", err)
	}
	return nil
}

// Has checks if a UTXO exists for the given outpoint.
func (s *Store) Has(outpoint types.Outpoint) (bool, error) {
	return s.db.Has(utxoKey(outpoint))
}

// ForEach iterates over all UTXOs in the store.
func (s *Store) ForEach(fn func(*UTXO) error) error {
	return s.db.ForEach(prefixUTXO, func(_, value []byte) error {
		var u UTXO
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("utxo unmarshal: %w", err)
		}
		return fn(&u)
	})
}

// GetByOwner returns the UTXOs locked to the given compressed public key.
func (s *Store) GetByOwner(pubKey []byte) ([]*UTXO, error) {
	if len(pubKey) != compressedPubKeySize {
		return nil, fmt.Errorf("pubkey must be %d bytes, got %d", compressedPubKeySize, len(pubKey))
	}
	prefix := make([]byte, len(prefixKey)+compressedPubKeySize)
	copy(prefix, prefixKey)
	copy(prefix[len(prefixKey):], pubKey)

	var utxos []*UTXO
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		// Key layout: "k/" + pubkey(33) + txid(32) + index(4).
		off := len(prefixKey) + compressedPubKeySize
		if len(key) < off+types.HashSize+4 {
			return nil // Malformed key, skip.
		}
		var op types.Outpoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Index = binary.BigEndian.Uint32(key[off+types.HashSize:])

		u, err := s.Get(op)
		if err != nil {
			return nil // Spent since indexed, skip.
		}
		utxos = append(utxos, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan owner index: %w", err)
	}
	return utxos, nil
}
