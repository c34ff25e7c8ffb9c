package node

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bsv-blockchain-demos/utility-tokens/config"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/rpc"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/rpcclient"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
)

var testPassword = []byte("correct horse battery staple")

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.tokend/keystore", filepath.Join(home, ".tokend/keystore")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// testConfig returns a config rooted in a temp dir with a fresh wallet.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RPC.Port = 0
	cfg.Log.Level = "error"
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	params := wallet.EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}
	if err := ks.Create(cfg.Wallet.Name, seed, testPassword, params); err != nil {
		t.Fatalf("Create wallet: %v", err)
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.Config) (*Node, *rpcclient.Client) {
	t.Helper()
	n, err := New(cfg, testPassword)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(n.Stop)
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return n, rpcclient.New("http://" + n.RPCAddr() + "/")
}

func TestUnlockWallet(t *testing.T) {
	cfg := testConfig(t)

	key, err := unlockWallet(cfg.KeystoreDir(), cfg.Wallet.Name, testPassword)
	if err != nil {
		t.Fatalf("unlockWallet: %v", err)
	}
	ks, _ := wallet.NewKeystore(cfg.KeystoreDir())
	pub, err := ks.IdentityKey(cfg.Wallet.Name)
	if err != nil {
		t.Fatalf("IdentityKey: %v", err)
	}
	if string(pub) != string(key.PublicKey()) {
		t.Error("unlocked key does not match the keystore identity")
	}

	if _, err := unlockWallet(cfg.KeystoreDir(), cfg.Wallet.Name, []byte("wrong")); !errors.Is(err, wallet.ErrDecrypt) {
		t.Errorf("wrong password err = %v, want ErrDecrypt", err)
	}
	if _, err := unlockWallet(cfg.KeystoreDir(), "missing", testPassword); !errors.Is(err, wallet.ErrWalletNotFound) {
		t.Errorf("missing wallet err = %v, want ErrWalletNotFound", err)
	}
}

func TestNode_LocalCollaborators(t *testing.T) {
	cfg := testConfig(t)
	n, client := startNode(t, cfg)

	var id rpc.IdentityKeyResult
	if err := client.Call("wallet_getIdentityKey", nil, &id); err != nil {
		t.Fatalf("wallet_getIdentityKey: %v", err)
	}
	if id.IdentityKey != n.Service().IdentityKey() {
		t.Errorf("identity = %s, want %s", id.IdentityKey, n.Service().IdentityKey())
	}

	var minted rpc.MintResult
	if err := client.Call("token_mint", rpc.MintParam{Label: "Credits", Amount: "42"}, &minted); err != nil {
		t.Fatalf("token_mint: %v", err)
	}

	var info rpc.LedgerInfoResult
	if err := client.Call("ledger_getInfo", nil, &info); err != nil {
		t.Fatalf("ledger_getInfo: %v", err)
	}
	if info.Height != 1 {
		t.Errorf("ledger height = %d, want 1", info.Height)
	}
}

func TestNode_Restart(t *testing.T) {
	cfg := testConfig(t)

	n, err := New(cfg, testPassword)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client := rpcclient.New("http://" + n.RPCAddr() + "/")
	var minted rpc.MintResult
	if err := client.Call("token_mint", rpc.MintParam{Label: "Credits", Amount: "42"}, &minted); err != nil {
		t.Fatalf("token_mint: %v", err)
	}
	n.Stop()

	// Balances and the registry survive a restart.
	_, client = startNode(t, cfg)
	var bals rpc.BalancesResult
	if err := client.Call("token_getBalances", nil, &bals); err != nil {
		t.Fatalf("token_getBalances: %v", err)
	}
	if len(bals.Balances) != 1 || bals.Balances[0].Amount != 42 {
		t.Fatalf("balances after restart = %+v, want 42 Credits", bals.Balances)
	}
	var list rpc.TokenListResult
	if err := client.Call("token_list", nil, &list); err != nil {
		t.Fatalf("token_list: %v", err)
	}
	if len(list.Tokens) != 1 || list.Tokens[0].TokenID != minted.TokenID {
		t.Errorf("tokens after restart = %+v", list.Tokens)
	}
}

func TestNode_RemoteCollaborators(t *testing.T) {
	hostCfg := testConfig(t)
	host, hostClient := startNode(t, hostCfg)

	base := "http://" + host.RPCAddr()
	peerCfg := testConfig(t)
	peerCfg.Overlay.URL = base + OverlayPath
	peerCfg.Mailbox.URL = base + MailboxPath
	_, peerClient := startNode(t, peerCfg)

	// The peer mints through the host's overlay and pays the host.
	var minted rpc.MintResult
	if err := peerClient.Call("token_mint", rpc.MintParam{Label: "Shared", Amount: "90"}, &minted); err != nil {
		t.Fatalf("token_mint: %v", err)
	}
	var sent rpc.SendResult
	err := peerClient.Call("token_send", rpc.SendParam{
		TokenID: minted.TokenID,
		To:      host.Service().IdentityKey(),
		Amount:  "30",
	}, &sent)
	if err != nil {
		t.Fatalf("token_send: %v", err)
	}

	var pending rpc.PendingResult
	if err := hostClient.Call("token_listPending", nil, &pending); err != nil {
		t.Fatalf("token_listPending: %v", err)
	}
	if len(pending.Pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending.Pending))
	}
	var accepted rpc.AcceptResult
	if err := hostClient.Call("token_accept", rpc.MessageParam{MessageID: pending.Pending[0].MessageID}, &accepted); err != nil {
		t.Fatalf("token_accept: %v", err)
	}

	var bals rpc.BalancesResult
	if err := hostClient.Call("token_getBalances", nil, &bals); err != nil {
		t.Fatalf("token_getBalances: %v", err)
	}
	if len(bals.Balances) != 1 || bals.Balances[0].Amount != 30 {
		t.Errorf("host balances = %+v, want 30 Shared", bals.Balances)
	}
}

func TestNew_MissingWallet(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Log.Level = "error"

	_, err := New(cfg, testPassword)
	if err == nil || !strings.Contains(err.Error(), "wallet create") {
		t.Errorf("err = %v, want a hint to create the wallet", err)
	}
}
