package rpc

import (
	"time"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000

	// CodeInsufficientBalance carries an InsufficientBalanceData payload.
	CodeInsufficientBalance = -32001
	CodeRejected            = -32002
	CodeUnavailable         = -32003
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// InsufficientBalanceData is the error data of CodeInsufficientBalance.
type InsufficientBalanceData struct {
	Identity  string `json:"identity"`
	Label     string `json:"label"`
	Requested uint64 `json:"requested,string"`
	Available uint64 `json:"available,string"`
	Shortfall uint64 `json:"shortfall,string"`
}

// ── Param types ─────────────────────────────────────────────────────────

// Amounts travel as decimal strings so values above 2^53 survive
// JavaScript clients.

// FieldParam is a custom metadata entry on a mint.
type FieldParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MintParam is used by token_mint.
type MintParam struct {
	Label  string       `json:"label"`
	Amount string       `json:"amount"`
	Fields []FieldParam `json:"fields,omitempty"`
}

// SendParam is used by token_send.
type SendParam struct {
	TokenID string `json:"token_id"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

// MessageParam is used by token_accept and token_reject.
type MessageParam struct {
	MessageID string `json:"message_id"`
}

// ── Result types ────────────────────────────────────────────────────────

// IdentityKeyResult is returned by wallet_getIdentityKey.
type IdentityKeyResult struct {
	IdentityKey string `json:"identity_key"`
}

// MintResult is returned by token_mint.
type MintResult struct {
	TxID     string        `json:"txid"`
	TokenID  string        `json:"token_id"`
	Label    string        `json:"label"`
	Amount   uint64        `json:"amount,string"`
	Metadata []token.Field `json:"metadata"`
}

// BalanceEntry is one token balance.
type BalanceEntry struct {
	TokenID string `json:"token_id"`
	Label   string `json:"label"`
	Amount  uint64 `json:"amount,string"`
}

// BalancesResult is returned by token_getBalances.
type BalancesResult struct {
	Balances []BalanceEntry `json:"balances"`
}

// SendResult is returned by token_send.
type SendResult struct {
	TxID      string `json:"txid"`
	MessageID string `json:"message_id"`
	TokenID   string `json:"token_id"`
	Label     string `json:"label"`
	Amount    uint64 `json:"amount,string"`
	Change    uint64 `json:"change,string"`
}

// PendingEntry is one incoming transfer.
type PendingEntry struct {
	MessageID string `json:"message_id"`
	TokenID   string `json:"token_id"`
	Label     string `json:"label"`
	Amount    uint64 `json:"amount,string"`
	Sender    string `json:"sender"`
	Outpoint  string `json:"outpoint"`
}

// PendingResult is returned by token_listPending.
type PendingResult struct {
	Pending []PendingEntry `json:"pending"`
}

// AcceptResult is returned by token_accept.
type AcceptResult struct {
	MessageID    string    `json:"message_id"`
	Outpoint     string    `json:"outpoint"`
	TokenID      string    `json:"token_id"`
	Amount       uint64    `json:"amount,string"`
	Accepted     time.Time `json:"accepted"`
	Acknowledged bool      `json:"acknowledged"`
}

// RejectResult is returned by token_reject.
type RejectResult struct {
	Rejected bool `json:"rejected"`
}

// TokenInfoResult describes a token the wallet has seen.
type TokenInfoResult struct {
	TokenID   string        `json:"token_id"`
	Label     string        `json:"label"`
	Metadata  []token.Field `json:"metadata"`
	FirstSeen string        `json:"first_seen"`
}

// TokenListResult is returned by token_list.
type TokenListResult struct {
	Tokens []TokenInfoResult `json:"tokens"`
}

// LedgerInfoResult is returned by ledger_getInfo.
type LedgerInfoResult struct {
	Height     uint64 `json:"height"`
	Unspent    int    `json:"unspent"`
	Commitment string `json:"commitment"`
}
