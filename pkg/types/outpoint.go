package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String returns "txid.index" with the txid in hex, the form wallets
// use when listing outputs.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s.%d", o.TxID.String(), o.Index)
}

// ParseOutpoint parses "txid.index". The "txid:index" form is accepted too.
func ParseOutpoint(s string) (Outpoint, error) {
	sep := strings.LastIndexAny(s, ".:")
	if sep < 0 {
		return Outpoint{}, fmt.Errorf("outpoint %q: missing index separator", s)
	}
	txid, err := HexToHash(s[:sep])
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: %w", s, err)
	}
	idx, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: invalid index: %w", s, err)
	}
	return Outpoint{TxID: txid, Index: uint32(idx)}, nil
}
