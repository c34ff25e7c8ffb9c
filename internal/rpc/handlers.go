package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/bridge"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/tokenwallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/types"
)

// ── Wallet endpoints ─────────────────────────────────────────────────

func (s *Server) handleWalletGetIdentityKey(_ *Request) (interface{}, *Error) {
	return &IdentityKeyResult{IdentityKey: s.service.IdentityKey()}, nil
}

// ── Token endpoints ──────────────────────────────────────────────────

func (s *Server) handleTokenMint(ctx context.Context, req *Request) (interface{}, *Error) {
	var params MintParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Label) == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "label is required"}
	}
	amount, err := token.ParseAmount(params.Amount)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	custom := make([]token.Field, 0, len(params.Fields))
	for _, f := range params.Fields {
		if f.Name == "" {
			return nil, &Error{Code: CodeInvalidParams, Message: "field name is required"}
		}
		custom = append(custom, token.Field{ID: f.Name, Name: f.Name, Value: f.Value})
	}

	res, err := s.service.Mint(ctx, token.MintRequest{
		Label:  params.Label,
		Amount: amount,
		Custom: custom,
	})
	if err != nil {
		return nil, errorFor("mint", err)
	}
	return &MintResult{
		TxID:     res.TxID.String(),
		TokenID:  string(res.Identity),
		Label:    res.Label,
		Amount:   res.Amount,
		Metadata: res.Metadata,
	}, nil
}

func (s *Server) handleTokenGetBalances(ctx context.Context, _ *Request) (interface{}, *Error) {
	balances, err := s.service.Balances(ctx)
	if err != nil {
		return nil, errorFor("balances", err)
	}
	entries := make([]BalanceEntry, len(balances))
	for i, b := range balances {
		entries[i] = BalanceEntry{
			TokenID: string(b.Identity),
			Label:   b.Label,
			Amount:  b.Amount,
		}
	}
	return &BalancesResult{Balances: entries}, nil
}

func (s *Server) handleTokenSend(ctx context.Context, req *Request) (interface{}, *Error) {
	var params SendParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.TokenID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "token_id is required"}
	}
	if params.To == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "to is required"}
	}
	op, err := types.ParseOutpoint(params.TokenID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid token_id: %v", err)}
	}
	amount, err := token.ParseAmount(params.Amount)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	res, err := s.service.Send(ctx, tokenwallet.SendRequest{
		Token:     types.TokenID(op.String()),
		Amount:    amount,
		Recipient: params.To,
	})
	if err != nil {
		return nil, errorFor("send", err)
	}
	return &SendResult{
		TxID:      res.TxID.String(),
		MessageID: res.MessageID,
		TokenID:   string(res.Identity),
		Label:     res.Label,
		Amount:    res.Amount,
		Change:    res.Change,
	}, nil
}

func (s *Server) handleTokenListPending(ctx context.Context, _ *Request) (interface{}, *Error) {
	pending, err := s.service.Pending(ctx)
	if err != nil {
		return nil, errorFor("list pending", err)
	}
	entries := make([]PendingEntry, len(pending))
	for i := range pending {
		p := &pending[i]
		entries[i] = PendingEntry{
			MessageID: p.MessageID,
			TokenID:   string(p.Identity),
			Label:     p.Label,
			Amount:    p.Amount,
			Sender:    p.SenderKey,
			Outpoint:  p.Outpoint().String(),
		}
	}
	return &PendingResult{Pending: entries}, nil
}

func (s *Server) handleTokenAccept(ctx context.Context, req *Request) (interface{}, *Error) {
	var params MessageParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.MessageID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "message_id is required"}
	}

	receipt, err := s.service.Accept(ctx, params.MessageID)
	if err != nil {
		return nil, errorFor("accept", err)
	}
	return &AcceptResult{
		MessageID:    receipt.MessageID,
		Outpoint:     receipt.Outpoint.String(),
		TokenID:      string(receipt.Identity),
		Amount:       receipt.Amount,
		Accepted:     receipt.Accepted,
		Acknowledged: receipt.Acknowledged,
	}, nil
}

func (s *Server) handleTokenReject(ctx context.Context, req *Request) (interface{}, *Error) {
	var params MessageParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.MessageID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "message_id is required"}
	}

	if err := s.service.Reject(ctx, params.MessageID); err != nil {
		return nil, errorFor("reject", err)
	}
	return &RejectResult{Rejected: true}, nil
}

func (s *Server) handleTokenList(_ *Request) (interface{}, *Error) {
	list, err := s.service.Tokens()
	if err != nil {
		return nil, errorFor("list tokens", err)
	}

	results := make([]TokenInfoResult, len(list))
	for i, info := range list {
		results[i] = TokenInfoResult{
			TokenID:   string(info.Identity),
			Label:     info.Label,
			Metadata:  info.Metadata,
			FirstSeen: info.FirstSeen.String(),
		}
	}
	return &TokenListResult{Tokens: results}, nil
}

// ── Ledger endpoints ─────────────────────────────────────────────────

func (s *Server) handleLedgerGetInfo(_ *Request) (interface{}, *Error) {
	if s.ledger == nil {
		return nil, &Error{Code: CodeInternalError, Message: "ledger not available"}
	}
	info, err := s.ledger.Info()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("ledger info: %v", err)}
	}
	return &LedgerInfoResult{
		Height:     info.Height,
		Unspent:    info.Unspent,
		Commitment: info.Commitment.String(),
	}, nil
}

// errorFor maps a service error to a JSON-RPC error.
func errorFor(op string, err error) *Error {
	msg := fmt.Sprintf("%s: %v", op, err)

	var short *token.InsufficientBalanceError
	if errors.As(err, &short) {
		return &Error{
			Code:    CodeInsufficientBalance,
			Message: msg,
			Data: &InsufficientBalanceData{
				Identity:  string(short.Identity),
				Label:     short.Label,
				Requested: short.Requested,
				Available: short.Available,
				Shortfall: short.Shortfall,
			},
		}
	}

	switch {
	case errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidRecipient),
		errors.Is(err, token.ErrLabelRequired):
		return &Error{Code: CodeInvalidParams, Message: msg}
	case errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, tokenwallet.ErrPendingNotFound):
		return &Error{Code: CodeNotFound, Message: msg}
	case errors.Is(err, token.ErrBroadcastRejected),
		errors.Is(err, bridge.ErrMalformedMessage):
		return &Error{Code: CodeRejected, Message: msg}
	case errors.Is(err, bridge.ErrMailboxUnavailable),
		errors.Is(err, overlay.ErrTransport):
		return &Error{Code: CodeUnavailable, Message: msg}
	default:
		return &Error{Code: CodeInternalError, Message: msg}
	}
}
