package wallet

import (
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

// IdentityPath is the BIP-32 path of the wallet's identity key:
// m/44'/236'/0'/0/0. Every protocol key is derived from the identity key.
var IdentityPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 236,
	bip32.FirstHardenedChild,
	0,
	0,
}

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// PrivateKey returns the key as a signing key.
func (k *HDKey) PrivateKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	// bip32 stores private keys as 33 bytes with a leading zero.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// IdentityKeyFromSeed derives the identity private key from a BIP-39 seed.
func IdentityKeyFromSeed(seed []byte) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	id, err := master.DerivePath(IdentityPath...)
	if err != nil {
		return nil, err
	}
	return id.PrivateKey()
}
