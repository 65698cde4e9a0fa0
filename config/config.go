package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	native "stakeshack/native/escrow"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STAKESHACK_"

type Config struct {
	Ledger    Ledger    `toml:"ledger"`
	Program   Program   `toml:"program"`
	Database  Database  `toml:"database"`
	Gateway   Gateway   `toml:"gateway"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
	Wallet    Wallet    `toml:"wallet"`
}

// Default returns a configuration suitable for a local validator.
func Default() *Config {
	return &Config{
		Ledger: Ledger{
			RPCURL:         "http://127.0.0.1:8899",
			Commitment:     "confirmed",
			Timeout:        Duration{15 * time.Second},
			RateLimit:      20,
			RateBurst:      40,
			ConfirmTimeout: Duration{90 * time.Second},
			PollInterval:   Duration{500 * time.Millisecond},
		},
		Program: Program{
			ID:             native.DefaultProgramID.String(),
			PenaltyAddress: native.DefaultPenaltyAddress.String(),
		},
		Database: Database{
			Driver: "sqlite",
			DSN:    "stakeshack.db",
		},
		Gateway: Gateway{
			ListenAddress:     ":8088",
			JWTSecretEnv:      EnvPrefix + "JWT_SECRET",
			RateLimit:         10,
			RateBurst:         20,
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{10 * time.Second},
		},
		Telemetry: Telemetry{
			SampleRatio: 0.1,
		},
		Logging: Logging{
			Env:   "dev",
			Level: "info",
		},
		Wallet: Wallet{
			PassphraseEnv: EnvPrefix + "KEYSTORE_PASSPHRASE",
		},
	}
}

// Load reads path over the defaults, applies STAKESHACK_* overrides and
// validates the result. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProgramDeployment resolves the configured program and penalty addresses.
func (c *Config) ProgramDeployment() (native.Program, error) {
	return native.NewProgram(c.Program.ID, c.Program.PenaltyAddress)
}

// JWTSecret returns the inline secret, falling back to the named variable.
func (c *Config) JWTSecret() string {
	if c.Gateway.JWTSecret != "" {
		return c.Gateway.JWTSecret
	}
	if c.Gateway.JWTSecretEnv != "" {
		return os.Getenv(c.Gateway.JWTSecretEnv)
	}
	return ""
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
