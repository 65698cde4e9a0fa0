package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Ledger configures the JSON-RPC connection and confirmation policy.
type Ledger struct {
	RPCURL         string   `toml:"rpc_url"`
	WebsocketURL   string   `toml:"websocket_url"`
	AuthToken      string   `toml:"auth_token"`
	Commitment     string   `toml:"commitment"`
	Timeout        Duration `toml:"timeout"`
	RateLimit      float64  `toml:"rate_limit"`
	RateBurst      int      `toml:"rate_burst"`
	ConfirmTimeout Duration `toml:"confirm_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
}

// Program selects the escrow program deployment.
type Program struct {
	ID             string `toml:"id"`
	PenaltyAddress string `toml:"penalty_address"`
}

// Database points at the marketplace store.
type Database struct {
	Driver   string `toml:"driver"`
	DSN      string `toml:"dsn"`
	Fixtures string `toml:"fixtures"`
}

// Gateway configures the HTTP service.
type Gateway struct {
	ListenAddress     string   `toml:"listen_address"`
	JWTSecret         string   `toml:"jwt_secret"`
	JWTSecretEnv      string   `toml:"jwt_secret_env"`
	JWTIssuer         string   `toml:"jwt_issuer"`
	RateLimit         float64  `toml:"rate_limit"`
	RateBurst         int      `toml:"rate_burst"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

type Telemetry struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	Headers     string  `toml:"headers"`
	Traces      bool    `toml:"traces"`
	Metrics     bool    `toml:"metrics"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type Logging struct {
	Env        string `toml:"env"`
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Wallet locates the operator signing key used by escrowctl.
type Wallet struct {
	KeystorePath  string `toml:"keystore_path"`
	PassphraseEnv string `toml:"passphrase_env"`
}
