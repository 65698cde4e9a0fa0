package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration after defaults and overrides.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Ledger.RPCURL) == "" {
		errs = append(errs, errors.New("ledger: rpc_url is required"))
	} else if u, err := url.Parse(c.Ledger.RPCURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("ledger: rpc_url %q must be an http(s) url", c.Ledger.RPCURL))
	}
	if ws := c.Ledger.WebsocketURL; ws != "" {
		if u, err := url.Parse(ws); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("ledger: websocket_url %q must be a ws(s) url", ws))
		}
	}
	switch c.Ledger.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("ledger: unknown commitment %q", c.Ledger.Commitment))
	}
	if c.Ledger.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("ledger: timeout must be positive"))
	}
	if c.Ledger.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, errors.New("ledger: confirm_timeout must be positive"))
	}
	if c.Ledger.RateLimit < 0 || c.Gateway.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if _, err := c.ProgramDeployment(); err != nil {
		errs = append(errs, fmt.Errorf("program: %w", err))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("database: unsupported driver %q", c.Database.Driver))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry: sample_ratio must be within [0,1]"))
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry: endpoint required when traces or metrics are enabled"))
	}
	return errors.Join(errs...)
}
