package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/bsv-blockchain-demos/utility-tokens/config"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/ledger"
	klog "github.com/bsv-blockchain-demos/utility-tokens/internal/log"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/mailbox"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/metrics"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/overlay"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/storage"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/tokenwallet"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

// network is the shared ledger, overlay and mailbox for a test.
type network struct {
	ledger *ledger.Ledger
	engine *overlay.LocalEngine
	hub    *mailbox.Hub
}

// testEnv is one wallet daemon's RPC endpoint.
type testEnv struct {
	server  *Server
	service *tokenwallet.Service
	url     string
}

func newNetwork(t *testing.T) *network {
	t.Helper()
	klog.Init("error", false, "")

	l, err := ledger.New(storage.NewMemory())
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	return &network{
		ledger: l,
		engine: overlay.NewLocalEngine(storage.NewMemory(), l),
		hub:    mailbox.NewHub(storage.NewMemory()),
	}
}

func (n *network) setupTestEnv(t *testing.T, rpcCfg ...config.RPCConfig) *testEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w, err := wallet.NewLocal(key, storage.NewMemory(), n.ledger)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	svc, err := tokenwallet.New(context.Background(), tokenwallet.Options{
		Wallet:  w,
		Overlay: n.engine,
		Mailbox: n.hub.For(key.PublicKeyHex()),
		DB:      storage.NewMemory(),
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	srv := New("127.0.0.1:0", svc, rpcCfg...)
	srv.SetLedger(n.ledger)
	srv.Handle("/metrics", metrics.Handler())
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:  srv,
		service: svc,
		url:     fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func setupTestEnv(t *testing.T, rpcCfg ...config.RPCConfig) *testEnv {
	t.Helper()
	return newNetwork(t).setupTestEnv(t, rpcCfg...)
}

// rpcCall sends a JSON-RPC request and returns the parsed response.
func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// decodeResult re-marshals a successful result into out.
func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}

func mint(t *testing.T, env *testEnv, label, amount string) MintResult {
	t.Helper()
	var res MintResult
	decodeResult(t, rpcCall(t, env.url, "token_mint", MintParam{Label: label, Amount: amount}), &res)
	return res
}

func balance(t *testing.T, env *testEnv, tokenID string) uint64 {
	t.Helper()
	var res BalancesResult
	decodeResult(t, rpcCall(t, env.url, "token_getBalances", nil), &res)
	for _, b := range res.Balances {
		if b.TokenID == tokenID {
			return b.Amount
		}
	}
	return 0
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_WalletGetIdentityKey(t *testing.T) {
	env := setupTestEnv(t)

	var res IdentityKeyResult
	decodeResult(t, rpcCall(t, env.url, "wallet_getIdentityKey", nil), &res)
	if res.IdentityKey != env.service.IdentityKey() {
		t.Errorf("identity key = %s, want %s", res.IdentityKey, env.service.IdentityKey())
	}
	if len(res.IdentityKey) != 66 {
		t.Errorf("identity key length = %d, want 66", len(res.IdentityKey))
	}
}

func TestRPC_TokenMint(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_mint", MintParam{
		Label:  " Gold ",
		Amount: "18446744073709551615",
		Fields: []FieldParam{{Name: "issuer", Value: "acme"}},
	})
	if raw, ok := resp.Result.(map[string]interface{}); !ok || raw["amount"] != "18446744073709551615" {
		t.Fatalf("raw amount = %#v, want a decimal string", resp.Result)
	}
	var res MintResult
	decodeResult(t, resp, &res)

	if res.Label != "Gold" {
		t.Errorf("label = %q, want %q", res.Label, "Gold")
	}
	if res.Amount != 18446744073709551615 {
		t.Errorf("amount = %d, want max uint64", res.Amount)
	}
	if res.TokenID != res.TxID+".0" {
		t.Errorf("token id = %s, want %s.0", res.TokenID, res.TxID)
	}
	if len(res.Metadata) != 2 || res.Metadata[1].Value != "acme" {
		t.Errorf("metadata = %+v, want label then issuer", res.Metadata)
	}
	if got := balance(t, env, res.TokenID); got != res.Amount {
		t.Errorf("balance = %d, want %d", got, res.Amount)
	}

	var list TokenListResult
	decodeResult(t, rpcCall(t, env.url, "token_list", nil), &list)
	if len(list.Tokens) != 1 || list.Tokens[0].TokenID != res.TokenID {
		t.Fatalf("token_list = %+v, want the minted token", list.Tokens)
	}
	if list.Tokens[0].Label != "Gold" {
		t.Errorf("listed label = %q, want %q", list.Tokens[0].Label, "Gold")
	}
}

func TestRPC_TokenMint_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		params interface{}
	}{
		{"no params", nil},
		{"blank label", MintParam{Label: "  ", Amount: "5"}},
		{"zero amount", MintParam{Label: "Gold", Amount: "0"}},
		{"negative amount", MintParam{Label: "Gold", Amount: "-5"}},
		{"too large", MintParam{Label: "Gold", Amount: "18446744073709551616"}},
		{"unnamed field", MintParam{Label: "Gold", Amount: "5", Fields: []FieldParam{{Value: "x"}}}},
		{"wrong type", map[string]interface{}{"label": 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, env.url, "token_mint", tt.params)
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != CodeInvalidParams {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, CodeInvalidParams, resp.Error.Message)
			}
		})
	}
}

func TestRPC_SendAcceptFlow(t *testing.T) {
	n := newNetwork(t)
	alice := n.setupTestEnv(t)
	bob := n.setupTestEnv(t)

	minted := mint(t, alice, "Credits", "1000")

	var sent SendResult
	decodeResult(t, rpcCall(t, alice.url, "token_send", SendParam{
		TokenID: minted.TokenID,
		To:      bob.service.IdentityKey(),
		Amount:  "400",
	}), &sent)
	if sent.Change != 600 {
		t.Errorf("change = %d, want 600", sent.Change)
	}
	if sent.MessageID == "" {
		t.Error("message id should be set")
	}
	if got := balance(t, alice, minted.TokenID); got != 600 {
		t.Errorf("sender balance = %d, want 600", got)
	}

	var pending PendingResult
	decodeResult(t, rpcCall(t, bob.url, "token_listPending", nil), &pending)
	if len(pending.Pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending.Pending))
	}
	p := pending.Pending[0]
	if p.Amount != 400 || p.TokenID != minted.TokenID || p.Label != "Credits" {
		t.Errorf("pending = %+v", p)
	}
	if p.Sender != alice.service.IdentityKey() {
		t.Errorf("sender = %s, want alice", p.Sender)
	}
	if p.Outpoint != sent.TxID+".0" {
		t.Errorf("outpoint = %s, want %s.0", p.Outpoint, sent.TxID)
	}

	var accepted AcceptResult
	decodeResult(t, rpcCall(t, bob.url, "token_accept", MessageParam{MessageID: p.MessageID}), &accepted)
	if accepted.Amount != 400 || !accepted.Acknowledged {
		t.Errorf("accept = %+v", accepted)
	}
	if got := balance(t, bob, minted.TokenID); got != 400 {
		t.Errorf("recipient balance = %d, want 400", got)
	}

	decodeResult(t, rpcCall(t, bob.url, "token_listPending", nil), &pending)
	if len(pending.Pending) != 0 {
		t.Errorf("pending after accept = %d, want 0", len(pending.Pending))
	}

	// The accepted record funds a transfer back.
	decodeResult(t, rpcCall(t, bob.url, "token_send", SendParam{
		TokenID: minted.TokenID,
		To:      alice.service.IdentityKey(),
		Amount:  "400",
	}), &sent)
	if sent.Change != 0 {
		t.Errorf("change = %d, want 0", sent.Change)
	}
}

func TestRPC_TokenReject(t *testing.T) {
	n := newNetwork(t)
	alice := n.setupTestEnv(t)
	bob := n.setupTestEnv(t)

	minted := mint(t, alice, "Credits", "100")
	resp := rpcCall(t, alice.url, "token_send", SendParam{
		TokenID: minted.TokenID,
		To:      bob.service.IdentityKey(),
		Amount:  "100",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}

	var pending PendingResult
	decodeResult(t, rpcCall(t, bob.url, "token_listPending", nil), &pending)
	if len(pending.Pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending.Pending))
	}

	var rejected RejectResult
	decodeResult(t, rpcCall(t, bob.url, "token_reject", MessageParam{MessageID: pending.Pending[0].MessageID}), &rejected)
	if !rejected.Rejected {
		t.Error("rejected should be true")
	}
	if got := balance(t, bob, minted.TokenID); got != 0 {
		t.Errorf("recipient balance = %d, want 0", got)
	}
	if got := balance(t, alice, minted.TokenID); got != 0 {
		t.Errorf("sender balance = %d, want 0", got)
	}

	resp = rpcCall(t, bob.url, "token_reject", MessageParam{MessageID: pending.Pending[0].MessageID})
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("second reject = %+v, want not found", resp.Error)
	}
}

func TestRPC_TokenSend_Insufficient(t *testing.T) {
	n := newNetwork(t)
	alice := n.setupTestEnv(t)
	bob := n.setupTestEnv(t)

	minted := mint(t, alice, "Credits", "100")
	resp := rpcCall(t, alice.url, "token_send", SendParam{
		TokenID: minted.TokenID,
		To:      bob.service.IdentityKey(),
		Amount:  "150",
	})
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeInsufficientBalance {
		t.Fatalf("code = %d, want %d", resp.Error.Code, CodeInsufficientBalance)
	}

	var data InsufficientBalanceData
	raw, _ := json.Marshal(resp.Error.Data)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Requested != 150 || data.Available != 100 || data.Shortfall != 50 {
		t.Errorf("data = %+v, want 150/100/50", data)
	}
	if data.Label != "Credits" {
		t.Errorf("label = %q, want %q", data.Label, "Credits")
	}

	if got := balance(t, alice, minted.TokenID); got != 100 {
		t.Errorf("balance after failed send = %d, want 100", got)
	}
}

func TestRPC_TokenSend_InvalidParams(t *testing.T) {
	env := setupTestEnv(t)
	minted := mint(t, env, "Credits", "100")
	to := env.service.IdentityKey()

	tests := []struct {
		name   string
		params SendParam
		code   int
	}{
		{"missing token", SendParam{To: to, Amount: "1"}, CodeInvalidParams},
		{"bad token", SendParam{TokenID: "nothex.0", To: to, Amount: "1"}, CodeInvalidParams},
		{"missing recipient", SendParam{TokenID: minted.TokenID, Amount: "1"}, CodeInvalidParams},
		{"bad recipient", SendParam{TokenID: minted.TokenID, To: "02abcd", Amount: "1"}, CodeInvalidParams},
		{"zero amount", SendParam{TokenID: minted.TokenID, To: to, Amount: "0"}, CodeInvalidParams},
		{"bad amount", SendParam{TokenID: minted.TokenID, To: to, Amount: "lots"}, CodeInvalidParams},
		{"unknown token", SendParam{TokenID: strings.Repeat("ab", 32) + ".0", To: to, Amount: "1"}, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, env.url, "token_send", tt.params)
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}
}

func TestRPC_TokenAccept_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_accept", MessageParam{MessageID: "nope"})
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("accept unknown = %+v, want not found", resp.Error)
	}

	resp = rpcCall(t, env.url, "token_accept", MessageParam{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("accept without id = %+v, want invalid params", resp.Error)
	}
}

func TestRPC_LedgerGetInfo(t *testing.T) {
	env := setupTestEnv(t)
	mint(t, env, "Credits", "5")

	var info LedgerInfoResult
	decodeResult(t, rpcCall(t, env.url, "ledger_getInfo", nil), &info)
	if info.Height != 1 {
		t.Errorf("height = %d, want 1", info.Height)
	}
	if info.Unspent != 1 {
		t.Errorf("unspent = %d, want 1", info.Unspent)
	}
	if len(info.Commitment) != 64 {
		t.Errorf("commitment = %q, want 64 hex chars", info.Commitment)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeParseError {
		t.Errorf("error = %+v, want parse error", rpcResp.Error)
	}
}

func TestRPC_WrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := `{"jsonrpc":"1.0","method":"token_list","id":1}`
	resp, err := http.Post(env.url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", rpcResp.Error)
	}
}

func TestRPC_GetNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", rpcResp.Error)
	}
}

func TestRPC_BodyTooLarge(t *testing.T) {
	env := setupTestEnv(t)

	big := bytes.Repeat([]byte("a"), maxBodySize+10)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(big))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", rpcResp.Error)
	}
}

func TestRPC_MetricsHandler(t *testing.T) {
	env := setupTestEnv(t)
	rpcCall(t, env.url, "token_list", nil)

	resp, err := http.Get(env.url + "metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `tokend_rpc_requests_total{method="token_list",result="ok"}`) {
		t.Error("metrics output should count token_list requests")
	}
}

// --- IP filter ---

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	})

	resp := rpcCall(t, env.url, "token_list", nil)
	if resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"}, // Only allow 10.x.x.x.
	})

	// Request comes from 127.0.0.1 → should be blocked.
	req := Request{JSONRPC: "2.0", Method: "token_list", ID: 1}
	body, _ := json.Marshal(req)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"127.0.0.1", "10.0.0.0/8", "::1", "garbage"})
	if len(nets) != 3 {
		t.Fatalf("parsed %d networks, want 3", len(nets))
	}
	ones, bits := nets[2].Mask.Size()
	if ones != 128 || bits != 128 {
		t.Errorf("ipv6 mask = /%d of %d, want /128", ones, bits)
	}
}

// --- CORS ---

func TestRPC_CORS_SpecificOrigin(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{
		CORSOrigins: []string{"http://myapp.com"},
	})

	for _, tc := range []struct {
		origin string
		want   string
	}{
		{"http://myapp.com", "http://myapp.com"},
		{"http://evil.com", ""},
	} {
		req := Request{JSONRPC: "2.0", Method: "token_list", ID: 1}
		body, _ := json.Marshal(req)
		httpReq, _ := http.NewRequest("POST", env.url, bytes.NewReader(body))
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Origin", tc.origin)

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()

		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("origin %s: CORS origin = %q, want %q", tc.origin, got, tc.want)
		}
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnv(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	})

	httpReq, _ := http.NewRequest("OPTIONS", env.url, nil)
	httpReq.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight should allow any origin")
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight should have Allow-Methods header")
	}
}
