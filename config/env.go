package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvDataDir        = "TOKEND_DATADIR"
	EnvRPCPort        = "TOKEND_RPC_PORT"
	EnvWalletName     = "TOKEND_WALLET"
	EnvWalletPassword = "TOKEND_WALLET_PASSWORD"
	EnvOverlayURL     = "TOKEND_OVERLAY_URL"
	EnvMailboxURL     = "TOKEND_MAILBOX_URL"
	EnvLogLevel       = "TOKEND_LOG_LEVEL"
)

// LoadEnvFile loads variables from a .env file into the process
// environment. Variables already set are kept. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies TOKEND_* variables to cfg. TOKEND_DATADIR is read by
// Load before the data directory is created.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvRPCPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRPCPort, err)
		}
		cfg.RPC.Port = port
	}
	if v, ok := os.LookupEnv(EnvWalletName); ok && v != "" {
		cfg.Wallet.Name = v
	}
	if v, ok := os.LookupEnv(EnvWalletPassword); ok {
		cfg.Wallet.Password = v
	}
	if v, ok := os.LookupEnv(EnvOverlayURL); ok {
		cfg.Overlay.URL = v
	}
	if v, ok := os.LookupEnv(EnvMailboxURL); ok {
		cfg.Mailbox.URL = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	return nil
}
