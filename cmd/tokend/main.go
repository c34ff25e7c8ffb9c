// Token wallet daemon.
//
// Usage:
//
//	tokend [--overlay-url=... --mailbox-url=...]  Run daemon
//	tokend --help                                Show help
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/bsv-blockchain-demos/utility-tokens/config"
	"github.com/bsv-blockchain-demos/utility-tokens/internal/node"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("tokend %s\n", config.Version)
		return
	}

	password, err := walletPassword(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

// walletPassword takes the password from TOKEND_WALLET_PASSWORD or prompts
// on the terminal.
func walletPassword(cfg *config.Config) ([]byte, error) {
	if cfg.Wallet.Password != "" {
		return []byte(cfg.Wallet.Password), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("no terminal to prompt for the wallet password; set %s", config.EnvWalletPassword)
	}
	fmt.Fprintf(os.Stderr, "Password for wallet %q: ", cfg.Wallet.Name)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
