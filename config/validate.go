package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if strings.TrimSpace(cfg.Wallet.Name) == "" {
		return fmt.Errorf("wallet.name is required")
	}
	if err := validateURL(cfg.Overlay.URL, "overlay.url"); err != nil {
		return err
	}
	if err := validateURL(cfg.Mailbox.URL, "mailbox.url"); err != nil {
		return err
	}
	if !cfg.RPC.Enabled && (cfg.Overlay.URL == "" || cfg.Mailbox.URL == "") {
		return fmt.Errorf("hosting the overlay or mailbox requires rpc.enabled")
	}
	return nil
}

func validateURL(raw, field string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}
