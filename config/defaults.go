package config

// Default ports.
const (
	DefaultRPCPort = 8750
)

// DefaultWalletName is the keystore wallet used when none is configured.
const DefaultWalletName = "default"

// Default returns the default daemon configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       DefaultRPCPort,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Wallet: WalletConfig{
			Name: DefaultWalletName,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
