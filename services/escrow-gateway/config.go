package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stakeshack/config"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/reconcile"
	sdkescrow "stakeshack/sdk/escrow"
	"stakeshack/storage/marketplace"
)

// deps holds the components built from configuration.
type deps struct {
	program   native.Program
	store     *marketplace.Store
	submitter *ledger.Submitter
	rec       *reconcile.Reconciler
}

func (d *deps) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

func requireGatewaySettings(cfg *config.Config) error {
	if cfg.JWTSecret() == "" {
		return errors.New("gateway: jwt secret is required (jwt_secret or the variable named by jwt_secret_env)")
	}
	if cfg.Gateway.ListenAddress == "" {
		return errors.New("gateway: listen_address is required")
	}
	return nil
}

func buildDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	program, err := cfg.ProgramDeployment()
	if err != nil {
		return nil, err
	}
	store, err := marketplace.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate marketplace: %w", err)
	}

	commitment := ledger.Commitment(cfg.Ledger.Commitment)
	client := ledger.NewClient(cfg.Ledger.RPCURL,
		ledger.WithAuthToken(cfg.Ledger.AuthToken),
		ledger.WithTimeout(cfg.Ledger.Timeout.Duration),
		ledger.WithRateLimit(cfg.Ledger.RateLimit, cfg.Ledger.RateBurst),
		ledger.WithCommitment(commitment),
		ledger.WithLogger(logger),
	)
	submitter := ledger.NewSubmitter(client,
		ledger.WithConfirmer(newConfirmer(cfg, client, logger)),
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout.Duration),
		ledger.WithSubmitterLogger(logger),
	)
	reader := sdkescrow.NewReader(client, program, logger)
	rec := reconcile.New(store, reader, submitter, reconcile.WithLogger(logger))
	return &deps{program: program, store: store, submitter: submitter, rec: rec}, nil
}

func newConfirmer(cfg *config.Config, rpc ledger.RPC, logger *slog.Logger) ledger.Confirmer {
	interval := cfg.Ledger.PollInterval.Duration
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	polling := ledger.NewPollingConfirmer(rpc, ledger.Commitment(cfg.Ledger.Commitment), interval)
	if cfg.Ledger.WebsocketURL == "" {
		return polling
	}
	return ledger.NewWebsocketConfirmer(cfg.Ledger.WebsocketURL, ledger.Commitment(cfg.Ledger.Commitment), polling, logger)
}
