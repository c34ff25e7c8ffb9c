package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Counterparty values with special meaning during key derivation.
const (
	CounterpartySelf   = "self"
	CounterpartyAnyone = "anyone"
)

var (
	ErrInvalidProtocol = errors.New("invalid protocol id")
	ErrInvalidKeyID    = errors.New("invalid key id")
)

// Protocol names a key derivation namespace together with its security level.
// It is encoded in JSON as the pair [securityLevel, name].
type Protocol struct {
	SecurityLevel int
	Name          string
}

// MarshalJSON encodes the protocol as [securityLevel, name].
func (p Protocol) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.SecurityLevel, p.Name})
}

// UnmarshalJSON decodes a [securityLevel, name] pair.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProtocol, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: want [level, name], got %d elements", ErrInvalidProtocol, len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.SecurityLevel); err != nil {
		return fmt.Errorf("%w: security level: %v", ErrInvalidProtocol, err)
	}
	if err := json.Unmarshal(pair[1], &p.Name); err != nil {
		return fmt.Errorf("%w: name: %v", ErrInvalidProtocol, err)
	}
	return nil
}

// Validate checks the security level and name.
func (p Protocol) Validate() error {
	if p.SecurityLevel < 0 || p.SecurityLevel > 2 {
		return fmt.Errorf("%w: security level %d", ErrInvalidProtocol, p.SecurityLevel)
	}
	name := strings.TrimSpace(p.Name)
	if len(name) < 5 || len(name) > 400 {
		return fmt.Errorf("%w: name %q must be 5..400 characters", ErrInvalidProtocol, p.Name)
	}
	if strings.Contains(name, "  ") {
		return fmt.Errorf("%w: name %q contains consecutive spaces", ErrInvalidProtocol, p.Name)
	}
	return nil
}

// InvoiceNumber returns "<level>-<protocol>-<keyID>", the message both
// parties feed to the HMAC when deriving a child key.
func InvoiceNumber(p Protocol, keyID string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if keyID == "" || len(keyID) > 800 {
		return "", fmt.Errorf("%w: length %d", ErrInvalidKeyID, len(keyID))
	}
	return fmt.Sprintf("%d-%s-%s", p.SecurityLevel, strings.ToLower(strings.TrimSpace(p.Name)), keyID), nil
}

// AnyonePrivateKey returns the well-known key with scalar 1.
func AnyonePrivateKey() *PrivateKey {
	var one [32]byte
	one[31] = 1
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(one[:])}
}

// sharedSecret returns the compressed ECDH point priv*pub.
func sharedSecret(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
}

func invoiceScalar(shared []byte, invoice string) *secp256k1.ModNScalar {
	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(invoice))
	var s secp256k1.ModNScalar
	s.SetByteSlice(mac.Sum(nil))
	return &s
}

// DeriveChild derives the private key that pairs with the public key a
// counterparty derives via DeriveChildPublic for the same invoice number.
func (pk *PrivateKey) DeriveChild(counterpartyPub []byte, invoice string) (*PrivateKey, error) {
	pub, err := secp256k1.ParsePubKey(counterpartyPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	s := invoiceScalar(sharedSecret(pk.key, pub), invoice)
	s.Add(&pk.key.Key)
	if s.IsZero() {
		return nil, errors.New("derived private key is zero")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(s)}, nil
}

// DeriveChildPublic derives the child public key of ownerPub. The caller
// holds pk; the owner of ownerPub can derive the matching private key with
// DeriveChild using pk's public key as the counterparty.
func (pk *PrivateKey) DeriveChildPublic(ownerPub []byte, invoice string) ([]byte, error) {
	pub, err := secp256k1.ParsePubKey(ownerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	s := invoiceScalar(sharedSecret(pk.key, pub), invoice)

	var offset, base, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &offset)
	pub.AsJacobian(&base)
	secp256k1.AddNonConst(&base, &offset, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y).SerializeCompressed(), nil
}
