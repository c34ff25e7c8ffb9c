// token-cli is a command-line client for interacting with a tokend daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/bsv-blockchain-demos/utility-tokens/config"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/rpc"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/rpcclient"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/token"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
)

// keystoreDir returns the keystore path matching tokend's layout:
// <datadir>/keystore
func keystoreDir(dataDir string) string {
	return filepath.Join(dataDir, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := fmt.Sprintf("http://127.0.0.1:%d", config.DefaultRPCPort)
	dataDir := config.DefaultDataDir()

	// Scan for --rpc and --datadir before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "identity":
		cmdIdentity(client)
	case "balance":
		cmdBalance(client)
	case "mint":
		cmdMint(client, cmdArgs)
	case "send":
		cmdSend(client, cmdArgs)
	case "pending":
		cmdPending(client)
	case "accept":
		cmdAccept(client, cmdArgs)
	case "reject":
		cmdReject(client, cmdArgs)
	case "tokens":
		cmdTokens(client)
	case "ledger":
		cmdLedger(client)
	case "wallet":
		cmdWallet(cmdArgs, keystoreDir(dataDir))
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: token-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:%d)
  --datadir <path>    Data directory (default: %s)

Commands:
  identity                              Show the wallet identity key
  balance                               Show token balances
  mint --label <l> --amount <n>         Create a new token
       [--field name=value]...          Extra metadata entries
  send --token <id> --to <key> --amount <n>
                                        Send tokens to an identity key
  pending                               List incoming transfers
  accept <message_id>                   Accept an incoming transfer
  reject <message_id>                   Reject an incoming transfer
  tokens                                List every token this wallet has held
  ledger                                Show local ledger state
  wallet create [--name <n>]            Create a keystore wallet
  wallet import [--name <n>] --mnemonic "..."
                                        Import a wallet from a mnemonic
  wallet list                           List keystore wallets
`, config.DefaultRPCPort, config.DefaultDataDir())
}

// ── identity / balance ──────────────────────────────────────────────────

func cmdIdentity(client *rpcclient.Client) {
	var result rpc.IdentityKeyResult
	if err := client.Call("wallet_getIdentityKey", nil, &result); err != nil {
		fatal("wallet_getIdentityKey: %v", err)
	}
	fmt.Println(result.IdentityKey)
}

func cmdBalance(client *rpcclient.Client) {
	var result rpc.BalancesResult
	if err := client.Call("token_getBalances", nil, &result); err != nil {
		fatal("token_getBalances: %v", err)
	}

	if len(result.Balances) == 0 {
		fmt.Println("No token balances.")
		return
	}

	fmt.Printf("Tokens: %d\n\n", len(result.Balances))
	for _, b := range result.Balances {
		fmt.Printf("  %-20s %d\n", b.Label, b.Amount)
		fmt.Printf("  %-20s %s\n\n", "", b.TokenID)
	}
}

// ── mint / send ─────────────────────────────────────────────────────────

// fieldList collects repeated --field name=value flags.
type fieldList []rpc.FieldParam

func (f *fieldList) String() string {
	parts := make([]string, len(*f))
	for i, p := range *f {
		parts[i] = p.Name + "=" + p.Value
	}
	return strings.Join(parts, ",")
}

func (f *fieldList) Set(s string) error {
	p, err := parseField(s)
	if err != nil {
		return err
	}
	*f = append(*f, p)
	return nil
}

// parseField parses "name=value". The value may contain '='.
func parseField(s string) (rpc.FieldParam, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return rpc.FieldParam{}, fmt.Errorf("field %q: want name=value", s)
	}
	return rpc.FieldParam{Name: name, Value: value}, nil
}

func cmdMint(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	label := fs.String("label", "", "Token label")
	amount := fs.String("amount", "", "Supply (integer token units)")
	var fields fieldList
	fs.Var(&fields, "field", "Extra metadata entry name=value (repeatable)")
	fs.Parse(args)

	if *label == "" || *amount == "" {
		fatal("Usage: token-cli mint --label <label> --amount <n> [--field name=value]...")
	}

	var result rpc.MintResult
	if err := client.Call("token_mint", rpc.MintParam{
		Label:  *label,
		Amount: *amount,
		Fields: fields,
	}, &result); err != nil {
		fatalRPC("token_mint", err)
	}

	fmt.Printf("Token minted!\n")
	fmt.Printf("  Tx:       %s\n", result.TxID)
	fmt.Printf("  Token ID: %s\n", result.TokenID)
	fmt.Printf("  Label:    %s\n", result.Label)
	fmt.Printf("  Amount:   %d\n", result.Amount)
	for _, f := range result.Metadata {
		if f.ID == token.LabelFieldID {
			continue
		}
		fmt.Printf("  %s: %s\n", f.Name, f.Value)
	}
}

func cmdSend(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	tokenID := fs.String("token", "", "Token ID (txid.index)")
	to := fs.String("to", "", "Recipient identity key (hex)")
	amount := fs.String("amount", "", "Token amount to send")
	fs.Parse(args)

	if *tokenID == "" || *to == "" || *amount == "" {
		fatal("Usage: token-cli send --token <id> --to <identity_key> --amount <n>")
	}

	var result rpc.SendResult
	if err := client.Call("token_send", rpc.SendParam{
		TokenID: *tokenID,
		To:      *to,
		Amount:  *amount,
	}, &result); err != nil {
		fatalRPC("token_send", err)
	}

	fmt.Printf("Token transfer sent!\n")
	fmt.Printf("  Tx:       %s\n", result.TxID)
	fmt.Printf("  Message:  %s\n", result.MessageID)
	fmt.Printf("  Token:    %s (%s)\n", result.Label, result.TokenID)
	fmt.Printf("  Amount:   %d\n", result.Amount)
	fmt.Printf("  Change:   %d\n", result.Change)
}

// ── pending / accept / reject ───────────────────────────────────────────

func cmdPending(client *rpcclient.Client) {
	var result rpc.PendingResult
	if err := client.Call("token_listPending", nil, &result); err != nil {
		fatal("token_listPending: %v", err)
	}

	if len(result.Pending) == 0 {
		fmt.Println("No pending transfers.")
		return
	}

	fmt.Printf("Pending: %d\n\n", len(result.Pending))
	for i, p := range result.Pending {
		fmt.Printf("  [%d] %d %s\n", i, p.Amount, p.Label)
		fmt.Printf("      Message: %s\n", p.MessageID)
		fmt.Printf("      Token:   %s\n", p.TokenID)
		fmt.Printf("      From:    %s\n", p.Sender)
		fmt.Println()
	}
}

func cmdAccept(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: token-cli accept <message_id>")
	}

	var result rpc.AcceptResult
	if err := client.Call("token_accept", rpc.MessageParam{MessageID: args[0]}, &result); err != nil {
		fatalRPC("token_accept", err)
	}

	fmt.Printf("Accepted %d of %s\n", result.Amount, result.TokenID)
	fmt.Printf("  Outpoint: %s\n", result.Outpoint)
	if !result.Acknowledged {
		fmt.Fprintln(os.Stderr, "Warning: the mailbox was not acknowledged; the transfer may be listed again.")
	}
}

func cmdReject(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: token-cli reject <message_id>")
	}

	var result rpc.RejectResult
	if err := client.Call("token_reject", rpc.MessageParam{MessageID: args[0]}, &result); err != nil {
		fatalRPC("token_reject", err)
	}
	fmt.Println("Transfer rejected. The tokens are not returned to the sender.")
}

// ── tokens / ledger ─────────────────────────────────────────────────────

func cmdTokens(client *rpcclient.Client) {
	var result rpc.TokenListResult
	if err := client.Call("token_list", nil, &result); err != nil {
		fatal("token_list: %v", err)
	}

	if len(result.Tokens) == 0 {
		fmt.Println("No tokens found.")
		return
	}

	fmt.Printf("Tokens: %d\n\n", len(result.Tokens))
	for i, t := range result.Tokens {
		fmt.Printf("  [%d] %s\n", i, t.Label)
		fmt.Printf("      ID:         %s\n", t.TokenID)
		fmt.Printf("      First seen: %s\n", t.FirstSeen)
		for _, f := range t.Metadata {
			if f.ID == token.LabelFieldID {
				continue
			}
			fmt.Printf("      %s: %s\n", f.Name, f.Value)
		}
		fmt.Println()
	}
}

func cmdLedger(client *rpcclient.Client) {
	var result rpc.LedgerInfoResult
	if err := client.Call("ledger_getInfo", nil, &result); err != nil {
		fatal("ledger_getInfo: %v", err)
	}
	fmt.Printf("Height:     %d\n", result.Height)
	fmt.Printf("Unspent:    %d\n", result.Unspent)
	fmt.Printf("Commitment: %s\n", result.Commitment)
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWallet(args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: token-cli wallet <create|import|list> [flags]")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(args[1:], ksDir)
	case "import":
		cmdWalletImport(args[1:], ksDir)
	case "list":
		cmdWalletList(ksDir)
	default:
		fatal("Unknown wallet command: %s\nUsage: token-cli wallet <create|import|list> [flags]", args[0])
	}
}

func cmdWalletCreate(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", config.DefaultWalletName, "Wallet name")
	fs.Parse(args)

	// Generate mnemonic.
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	identity := storeWallet(ksDir, *name, mnemonic)
	fmt.Printf("Wallet created: %s\n", *name)
	fmt.Printf("Identity key: %s\n", identity)
}

func cmdWalletImport(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	name := fs.String("name", config.DefaultWalletName, "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: token-cli wallet import [--name <name>] --mnemonic \"word1 word2 ...\"")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	identity := storeWallet(ksDir, *name, *mnemonic)
	fmt.Printf("Wallet imported: %s\n", *name)
	fmt.Printf("Identity key: %s\n", identity)
}

// storeWallet encrypts the mnemonic's seed into the keystore and returns
// the identity key.
func storeWallet(ksDir, name, mnemonic string) string {
	// Prompt for password (twice).
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	// Derive seed.
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}
	if err := ks.Create(name, seed, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}

	key, err := wallet.IdentityKeyFromSeed(seed)
	if err != nil {
		fatal("derive identity key: %v", err)
	}
	defer key.Zero()
	return key.PublicKeyHex()
}

func cmdWalletList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	names, err := ks.List()
	if err != nil {
		fatal("list wallets: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}

	for _, name := range names {
		pub, err := ks.IdentityKey(name)
		if err != nil {
			fmt.Printf("%s\n", name)
			continue
		}
		fmt.Printf("%s  %x\n", name, pub)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// fatalRPC reports an RPC failure, spelling out a balance shortfall.
func fatalRPC(method string, err error) {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeInsufficientBalance {
		var data rpc.InsufficientBalanceData
		if ok, _ := rpcErr.DecodeData(&data); ok {
			fatal("insufficient %s balance: requested %d, available %d, short by %d",
				data.Label, data.Requested, data.Available, data.Shortfall)
		}
	}
	fatal("%s: %v", method, err)
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
