package token

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

// InstructionsVersion is the current SpendInstructions format.
const InstructionsVersion = 1

// ErrInstructions is returned for a custom-instructions blob that does not
// describe how to unlock the output.
var ErrInstructions = errors.New("invalid spend instructions")

// SpendInstructions is the side-record stored with each wallet output that
// names the key needed to spend it.
type SpendInstructions struct {
	Version      int             `json:"version,omitempty"`
	Protocol     crypto.Protocol `json:"protocolID"`
	KeyID        string          `json:"keyID"`
	Counterparty string          `json:"counterparty"`
}

// NewSpendInstructions returns current-version instructions.
func NewSpendInstructions(keyID, counterparty string) SpendInstructions {
	return SpendInstructions{
		Version:      InstructionsVersion,
		Protocol:     Protocol,
		KeyID:        keyID,
		Counterparty: counterparty,
	}
}

// Encode returns the JSON form stored in the wallet.
func (si SpendInstructions) Encode() (string, error) {
	b, err := json.Marshal(si)
	if err != nil {
		return "", fmt.Errorf("encode instructions: %w", err)
	}
	return string(b), nil
}

// KeyArgs returns the wallet key selector for the instructions.
func (si SpendInstructions) KeyArgs() wallet.KeyArgs {
	return wallet.KeyArgs{Protocol: si.Protocol, KeyID: si.KeyID, Counterparty: si.Counterparty}
}

// ParseSpendInstructions decodes and checks a custom-instructions blob.
// Blobs without a version are read as version 1.
func ParseSpendInstructions(s string) (SpendInstructions, error) {
	var si SpendInstructions
	if s == "" {
		return si, fmt.Errorf("%w: empty", ErrInstructions)
	}
	if err := json.Unmarshal([]byte(s), &si); err != nil {
		return si, fmt.Errorf("%w: %v", ErrInstructions, err)
	}
	if si.Version == 0 {
		si.Version = InstructionsVersion
	}
	if si.Version != InstructionsVersion {
		return si, fmt.Errorf("%w: unsupported version %d", ErrInstructions, si.Version)
	}
	if err := si.Protocol.Validate(); err != nil {
		return si, fmt.Errorf("%w: %v", ErrInstructions, err)
	}
	if si.KeyID == "" {
		return si, fmt.Errorf("%w: missing keyID", ErrInstructions)
	}
	if si.Counterparty == "" {
		return si, fmt.Errorf("%w: missing counterparty", ErrInstructions)
	}
	return si, nil
}
