package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"stakeshack/cmd/internal/passphrase"
	"stakeshack/config"
	"stakeshack/crypto"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/observability/logging"
	"stakeshack/reconcile"
	sdkescrow "stakeshack/sdk/escrow"
	"stakeshack/storage/marketplace"
)

// newPassphraseSource is swapped in tests to avoid touching the terminal.
var newPassphraseSource = func(envVar string) interface{ Get() (string, error) } {
	return passphrase.NewSource(envVar, "wallet keystore")
}

// cliEnv lazily builds the components a command needs from configuration.
type cliEnv struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg       *config.Config
	logger    *slog.Logger
	rpc       *ledger.Client
	submitter *ledger.Submitter
	store     *marketplace.Store
}

func (e *cliEnv) loadConfig() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	e.logger = logging.Setup("escrowctl", cfg.Logging.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Output:     e.stderr,
	})
	return cfg, nil
}

func (e *cliEnv) program() (native.Program, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return native.Program{}, err
	}
	return cfg.ProgramDeployment()
}

func (e *cliEnv) ledgerClient() (*ledger.Client, error) {
	if e.rpc != nil {
		return e.rpc, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	e.rpc = ledger.NewClient(cfg.Ledger.RPCURL,
		ledger.WithAuthToken(cfg.Ledger.AuthToken),
		ledger.WithTimeout(cfg.Ledger.Timeout.Duration),
		ledger.WithRateLimit(cfg.Ledger.RateLimit, cfg.Ledger.RateBurst),
		ledger.WithCommitment(ledger.Commitment(cfg.Ledger.Commitment)),
		ledger.WithLogger(e.logger),
	)
	return e.rpc, nil
}

func (e *cliEnv) reader() (*sdkescrow.Reader, error) {
	program, err := e.program()
	if err != nil {
		return nil, err
	}
	rpc, err := e.ledgerClient()
	if err != nil {
		return nil, err
	}
	return sdkescrow.NewReader(rpc, program, e.logger), nil
}

func (e *cliEnv) ledgerSubmitter() (*ledger.Submitter, error) {
	if e.submitter != nil {
		return e.submitter, nil
	}
	rpc, err := e.ledgerClient()
	if err != nil {
		return nil, err
	}
	cfg := e.cfg
	commitment := ledger.Commitment(cfg.Ledger.Commitment)
	interval := cfg.Ledger.PollInterval.Duration
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	polling := ledger.NewPollingConfirmer(rpc, commitment, interval)
	var confirmer ledger.Confirmer = polling
	if cfg.Ledger.WebsocketURL != "" {
		confirmer = ledger.NewWebsocketConfirmer(cfg.Ledger.WebsocketURL, commitment, polling, e.logger)
	}
	e.submitter = ledger.NewSubmitter(rpc,
		ledger.WithConfirmer(confirmer),
		ledger.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout.Duration),
		ledger.WithSubmitterLogger(e.logger),
	)
	return e.submitter, nil
}

func (e *cliEnv) escrowClient() (*sdkescrow.Client, error) {
	reader, err := e.reader()
	if err != nil {
		return nil, err
	}
	submitter, err := e.ledgerSubmitter()
	if err != nil {
		return nil, err
	}
	return sdkescrow.NewClient(reader.Program(), submitter, reader), nil
}

func (e *cliEnv) openStore() (*marketplace.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := marketplace.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

func (e *cliEnv) reconciler(opts ...reconcile.Option) (*reconcile.Reconciler, error) {
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	reader, err := e.reader()
	if err != nil {
		return nil, err
	}
	submitter, err := e.ledgerSubmitter()
	if err != nil {
		return nil, err
	}
	return reconcile.New(store, reader, submitter, append([]reconcile.Option{reconcile.WithLogger(e.logger)}, opts...)...), nil
}

// signer unlocks the keystore named by override or wallet.keystore_path.
// Encrypted keystores take their passphrase from wallet.passphrase_env or
// the terminal.
func (e *cliEnv) signer(override string) (*crypto.PrivateKey, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(override)
	if path == "" {
		path = cfg.Wallet.KeystorePath
	}
	if path == "" {
		return nil, fmt.Errorf("no keystore configured; pass --keystore or set wallet.keystore_path")
	}
	encrypted, err := crypto.IsEncryptedKeystore(path)
	if err != nil {
		return nil, err
	}
	var pass string
	if encrypted {
		pass, err = newPassphraseSource(cfg.Wallet.PassphraseEnv).Get()
		if err != nil {
			return nil, err
		}
	}
	return crypto.LoadFromKeystore(path, pass)
}

func (e *cliEnv) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}
