// Package config handles tokend configuration.
//
// Settings are layered: built-in defaults, the tokend.conf file in the data
// directory, a .env file and TOKEND_* environment variables, then
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	// RPC server
	RPC RPCConfig

	// Wallet
	Wallet WalletConfig

	// Verification overlay
	Overlay OverlayConfig

	// Message box service
	Mailbox MailboxConfig

	// Prometheus endpoint
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// WalletConfig selects the keystore wallet the daemon unlocks.
type WalletConfig struct {
	Name string `conf:"wallet.name"`
	// Password is read from the environment only, never from the file.
	Password string
}

// OverlayConfig points at the overlay. An empty URL hosts the token topic
// in-process and serves it to other daemons.
type OverlayConfig struct {
	URL string `conf:"overlay.url"`
}

// MailboxConfig points at the message box service. An empty URL hosts the
// mailbox in-process.
type MailboxConfig struct {
	URL string `conf:"mailbox.url"`
}

// MetricsConfig controls the /metrics endpoint on the RPC listener.
type MetricsConfig struct {
	Enabled bool `conf:"metrics.enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.tokend
//	macOS:   ~/Library/Application Support/Tokend
//	Windows: %APPDATA%\Tokend
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tokend"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Tokend")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Tokend")
		}
		return filepath.Join(home, "AppData", "Roaming", "Tokend")
	default:
		return filepath.Join(home, ".tokend")
	}
}

// DBDir returns the database directory shared by every component.
func (c *Config) DBDir() string {
	return filepath.Join(c.DataDir, "db")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "tokend.conf")
}

// EnvFile returns the path of the optional .env file.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}
