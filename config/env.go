package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from STAKESHACK_* variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"LEDGER_RPC_URL":     &cfg.Ledger.RPCURL,
		"LEDGER_WS_URL":      &cfg.Ledger.WebsocketURL,
		"LEDGER_AUTH_TOKEN":  &cfg.Ledger.AuthToken,
		"LEDGER_COMMITMENT":  &cfg.Ledger.Commitment,
		"PROGRAM_ID":         &cfg.Program.ID,
		"PENALTY_ADDRESS":    &cfg.Program.PenaltyAddress,
		"DB_DRIVER":          &cfg.Database.Driver,
		"DB_DSN":             &cfg.Database.DSN,
		"GATEWAY_LISTEN":     &cfg.Gateway.ListenAddress,
		"GATEWAY_JWT_ISSUER": &cfg.Gateway.JWTIssuer,
		"OTEL_ENDPOINT":      &cfg.Telemetry.Endpoint,
		"OTEL_HEADERS":       &cfg.Telemetry.Headers,
		"LOG_LEVEL":          &cfg.Logging.Level,
		"LOG_FILE":           &cfg.Logging.File,
		"ENV":                &cfg.Logging.Env,
		"KEYSTORE":           &cfg.Wallet.KeystorePath,
	}
	for name, field := range strs {
		if raw, ok := lookup(EnvPrefix + name); ok {
			*field = strings.TrimSpace(raw)
		}
	}

	durations := map[string]*Duration{
		"LEDGER_TIMEOUT":         &cfg.Ledger.Timeout,
		"LEDGER_CONFIRM_TIMEOUT": &cfg.Ledger.ConfirmTimeout,
	}
	for name, field := range durations {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		dur, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		field.Duration = dur
	}

	floats := map[string]*float64{
		"LEDGER_RATE_LIMIT":  &cfg.Ledger.RateLimit,
		"GATEWAY_RATE_LIMIT": &cfg.Gateway.RateLimit,
		"OTEL_SAMPLE_RATIO":  &cfg.Telemetry.SampleRatio,
	}
	for name, field := range floats {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*field = val
	}

	bools := map[string]*bool{
		"OTEL_INSECURE": &cfg.Telemetry.Insecure,
		"OTEL_TRACES":   &cfg.Telemetry.Traces,
		"OTEL_METRICS":  &cfg.Telemetry.Metrics,
	}
	for name, field := range bools {
		raw, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		val, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*field = val
	}
	return nil
}
