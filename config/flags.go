package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Wallet
	Wallet string

	// Collaborators
	OverlayURL string
	MailboxURL string

	// Metrics
	Metrics bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags (for true/false and empty-string overrides).
	SetRPC        bool
	SetMetrics    bool
	SetLogJSON    bool
	SetOverlayURL bool
	SetMailboxURL bool
}

// ParseFlags parses command-line arguments (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("tokend", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Wallet
	fs.StringVar(&f.Wallet, "wallet", "", "Keystore wallet name")

	// Collaborators
	fs.StringVar(&f.OverlayURL, "overlay-url", "", "Overlay URL (empty: host locally)")
	fs.StringVar(&f.MailboxURL, "mailbox-url", "", "Mailbox URL (empty: host locally)")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", true, "Serve Prometheus metrics on /metrics")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetOverlayURL = isFlagSet(fs, "overlay-url")
	f.SetMailboxURL = isFlagSet(fs, "mailbox-url")

	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Wallet
	if f.Wallet != "" {
		cfg.Wallet.Name = f.Wallet
	}

	// Collaborators
	if f.SetOverlayURL {
		cfg.Overlay.URL = f.OverlayURL
	}
	if f.SetMailboxURL {
		cfg.Mailbox.URL = f.MailboxURL
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the daemon help text.
func PrintUsage(w io.Writer) {
	usage := `tokend - utility token wallet daemon

Usage:
  tokend [options]
  tokend --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.tokend)
  --config, -c    Config file path (default: <datadir>/tokend.conf)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (default: 8750)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)

Wallet Options:
  --wallet        Keystore wallet name (default: default)

Collaborators:
  --overlay-url   Overlay URL; empty hosts the token topic in this daemon
  --mailbox-url   Mailbox URL; empty hosts the mailbox in this daemon

Other Options:
  --metrics       Serve Prometheus metrics on /metrics (default: true)
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Environment:
  TOKEND_WALLET_PASSWORD  Wallet password (required to start)
  TOKEND_OVERLAY_URL      Same as --overlay-url
  TOKEND_MAILBOX_URL      Same as --mailbox-url
  TOKEND_DATADIR, TOKEND_RPC_PORT, TOKEND_WALLET, TOKEND_LOG_LEVEL
  Variables may also be set in <datadir>/.env.

Examples:
  # Host overlay and mailbox locally
  TOKEND_WALLET_PASSWORD=secret tokend

  # Join another daemon's overlay and mailbox
  tokend --datadir=/tmp/bob --rpc-port=8751 \
    --overlay-url=http://127.0.0.1:8750/overlay \
    --mailbox-url=http://127.0.0.1:8750/mailbox
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Config file (created with defaults on first start)
// 3. .env file and TOKEND_* environment variables
// 4. Command-line flags
//
// It returns flag.ErrHelp after printing usage when --help was given.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, flag.ErrHelp
	}
	if flags.Version {
		return nil, flags, nil
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	} else if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := LoadEnvFile(cfg.EnvFile()); err != nil {
		return nil, nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, nil, fmt.Errorf("applying environment: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.DBDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
