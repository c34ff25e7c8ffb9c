// Package token implements the utility-token protocol.
//
// A token record is a three-field payload (identity, amount, metadata) carried
// in a PushDrop locking script on a 1-satoshi output. Tokens are identified by
// the outpoint of their mint output: a freshly minted record carries the mint
// sentinel as its identity and every later transfer carries that outpoint
// string verbatim. Transfers conserve supply per identity.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

// Wallet placement of token outputs.
const (
	// Basket is the wallet basket holding spendable token records.
	Basket = "demotokens3"
	// Topic is the overlay topic that admits token transactions.
	Topic = "tm_tokendemo"
	// MessageBox is the mailbox box carrying pending transfers.
	MessageBox = "demotokenpayments"
	// OutputSatoshis is the value attached to every token output.
	OutputSatoshis = 1
)

// Tags and action labels.
const (
	TagMint     = "mint"
	TagChange   = "change"
	TagReceived = "received"

	LabelMint     = "mint"
	LabelTransfer = "transfer"
)

// Protocol is the key derivation protocol for token outputs.
var Protocol = crypto.Protocol{SecurityLevel: 2, Name: "tokendemo"}

// keyIDSize is the number of random bytes in a fresh key id.
const keyIDSize = 8

// NewKeyID returns a random base64 key id for one mint or transfer.
func NewKeyID() (string, error) {
	var b [keyIDSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("key id: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// Tags returns the wallet tags for a token output.
func Tags(kind, labelOrID string) []string {
	return []string{Basket, kind, labelOrID}
}

// ActionLabels returns the wallet labels for a mint or transfer action.
func ActionLabels(kind string) []string {
	return []string{Basket, kind}
}
