package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stakeshack/crypto"
	"stakeshack/ledger/ledgertest"
	native "stakeshack/native/escrow"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(cfgPath string, args ...string) cliResult {
	var stdout, stderr bytes.Buffer
	full := append([]string{"-config", cfgPath}, args...)
	code := run(full, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func (r cliResult) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.stdout), v); err != nil {
		t.Fatalf("decode stdout %q: %v", r.stdout, err)
	}
}

func mustSucceed(t *testing.T, r cliResult) cliResult {
	t.Helper()
	if r.code != 0 {
		t.Fatalf("expected exit 0, got %d\nstdout: %s\nstderr: %s", r.code, r.stdout, r.stderr)
	}
	return r
}

type cliFixture struct {
	dir     string
	cfgPath string
	fake    *ledgertest.Ledger
	program native.Program

	owner, tenant, referrer *crypto.PrivateKey
	ownerKeystore           string
	tenantKeystore          string
}

func writeKeypair(t *testing.T, dir, name string) (*crypto.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data, err := key.MarshalKeypairJSON()
	if err != nil {
		t.Fatalf("marshal keypair: %v", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}
	return key, path
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()
	f := &cliFixture{dir: dir, program: native.DefaultProgram()}
	f.fake = ledgertest.New(f.program)
	srv := httptest.NewServer(f.fake.Handler())
	t.Cleanup(srv.Close)

	f.owner, f.ownerKeystore = writeKeypair(t, dir, "owner")
	f.tenant, f.tenantKeystore = writeKeypair(t, dir, "tenant")
	f.referrer, _ = writeKeypair(t, dir, "referrer")
	f.fake.Fund(f.owner.PubKey(), 50_000_000)
	f.fake.Fund(f.tenant.PubKey(), 50_000_000)

	f.cfgPath = filepath.Join(dir, "stakeshack.toml")
	cfg := fmt.Sprintf(`
[ledger]
rpc_url = %q
rate_limit = 0.0
confirm_timeout = "5s"
poll_interval = "5ms"

[database]
driver = "sqlite"
dsn = %q

[logging]
level = "error"
`, srv.URL, filepath.Join(dir, "market.db"))
	if err := os.WriteFile(f.cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return f
}

func (f *cliFixture) seed(t *testing.T) {
	t.Helper()
	fixtures := fmt.Sprintf(`
profiles:
  - id: prof-owner
    username: olivia
    pubkey: %s
  - id: prof-tenant
    username: tomas
    pubkey: %s
  - id: prof-ref
    username: rhea
    pubkey: %s
apartments:
  - id: apt-1
    owner: prof-owner
    approved: prof-tenant
    location: 12 Harbour Rd
    rent_lamports: 1000000
    reward_amount: 300
interests:
  - apartment: apt-1
    profile: prof-tenant
    referrer: prof-ref
`, f.owner.PubKey(), f.tenant.PubKey(), f.referrer.PubKey())
	path := filepath.Join(f.dir, "fixtures.yaml")
	if err := os.WriteFile(path, []byte(fixtures), 0o644); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	res := mustSucceed(t, runCLI(f.cfgPath, "db", "seed", "--fixtures", path))
	if !strings.Contains(res.stdout, "seeded 3 profiles, 1 apartments, 1 interests") {
		t.Fatalf("unexpected seed output %q", res.stdout)
	}
}

func TestUsageAndUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: escrowctl") {
		t.Fatalf("usage not printed: %q", stderr.String())
	}

	stderr.Reset()
	if code := run([]string{"bogus"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: bogus") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	stdout.Reset()
	if code := run([]string{"help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("help should succeed, got %d", code)
	}
	if !strings.Contains(stdout.String(), "stakes export") {
		t.Fatalf("help output missing commands: %q", stdout.String())
	}
}

func TestArgValidation(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "stakeshack.toml")
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"derive_missing_apartment", []string{"derive"}, "Error: --apartment is required"},
		{"derive_positional", []string{"derive", "--apartment", "apt-1", "extra"}, "Error: unexpected positional arguments"},
		{"escrow_unknown", []string{"escrow", "put"}, "Unknown escrow subcommand: put"},
		{"stakes_get_missing_profile", []string{"stakes", "get", "--apartment", "apt-1"}, "Error: --profile is required"},
		{"stakes_export_missing_apartment", []string{"stakes", "export", "--apartment", " , "}, "Error: --apartment is required"},
		{"view_missing_profile", []string{"view", "--apartment", "apt-1"}, "Error: --profile is required"},
		{"initialize_missing_profile", []string{"initialize", "--apartment", "apt-1"}, "Error: --profile is required"},
		{"stake_bad_amount", []string{"stake", "--apartment", "apt-1", "--profile", "p", "--amount", "ten"}, "Error: --amount must be a non-negative integer"},
		{"resolve_missing_tenant", []string{"resolve", "--apartment", "apt-1", "--profile", "p"}, "Error: --tenant is required"},
		{"resolve_reward_needs_direct", []string{"resolve", "--apartment", "apt-1", "--profile", "p", "--tenant", "t", "--reward", "5"}, "Error: --reward and --referrer require --direct"},
		{"slash_no_keystore", []string{"slash", "--apartment", "apt-1", "--profile", "p", "--tenant", "t"}, "Error: no keystore configured"},
		{"keygen_missing_out", []string{"keygen"}, "Error: --out is required"},
		{"db_unknown", []string{"db", "drop"}, "Unknown db subcommand: drop"},
		{"seed_missing_fixtures", []string{"db", "seed"}, "Error: --fixtures is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(cfgPath, tc.args...)
			if res.code != 1 {
				t.Fatalf("expected exit 1, got %d (stdout %q)", res.code, res.stdout)
			}
			if !strings.Contains(res.stderr, tc.wantErr) {
				t.Fatalf("stderr %q does not contain %q", res.stderr, tc.wantErr)
			}
		})
	}
}

func TestDeriveMatchesKnownAddresses(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "stakeshack.toml")
	res := mustSucceed(t, runCLI(cfgPath, "derive", "--apartment", "apt-1", "--profile", "prof-7"))
	var out derivedAddresses
	res.decode(t, &out)
	if out.ProgramID != native.DefaultProgramID.String() {
		t.Fatalf("unexpected program %s", out.ProgramID)
	}
	if out.Escrow != "EYPUqgQNLo376Z6Ax4juziUzFnSPLLu6jiCfRGMpjnux" || out.EscrowBump != 255 {
		t.Fatalf("unexpected escrow address %s/%d", out.Escrow, out.EscrowBump)
	}
	if out.Stake != "9KWWS33HbGYEcaGpp49GHKYzesbFCxA3b1sCJCyEkmjQ" || out.StakeBump == nil || *out.StakeBump != 255 {
		t.Fatalf("unexpected stake address %+v", out)
	}

	res = mustSucceed(t, runCLI(cfgPath, "derive", "--apartment", "apt-3"))
	out = derivedAddresses{}
	res.decode(t, &out)
	if out.Escrow != "yxaiyWzZLhuUZnzxKrt3XsjxvSMvvvJsPVDxsE1EHmf" || out.EscrowBump != 254 || out.Stake != "" {
		t.Fatalf("unexpected escrow-only output %+v", out)
	}
}

type fixedPassphrase string

func (p fixedPassphrase) Get() (string, error) { return string(p), nil }

func TestKeygenPlainAndEncrypted(t *testing.T) {
	orig := newPassphraseSource
	newPassphraseSource = func(string) interface{ Get() (string, error) } { return fixedPassphrase("correct horse") }
	defer func() { newPassphraseSource = orig }()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "stakeshack.toml")

	plainPath := filepath.Join(dir, "plain.json")
	res := mustSucceed(t, runCLI(cfgPath, "keygen", "--out", plainPath, "--plain"))
	plainKey, err := crypto.LoadFromKeystore(plainPath, "")
	if err != nil {
		t.Fatalf("load plain keypair: %v", err)
	}
	if strings.TrimSpace(res.stdout) != plainKey.PubKey().String() {
		t.Fatalf("printed %q, file holds %s", res.stdout, plainKey.PubKey())
	}

	res = runCLI(cfgPath, "keygen", "--out", plainPath)
	if res.code != 1 || !strings.Contains(res.stderr, "already exists") {
		t.Fatalf("expected overwrite refusal, got %d %q", res.code, res.stderr)
	}

	sealedPath := filepath.Join(dir, "sealed.json")
	res = mustSucceed(t, runCLI(cfgPath, "keygen", "--out", sealedPath))
	encrypted, err := crypto.IsEncryptedKeystore(sealedPath)
	if err != nil || !encrypted {
		t.Fatalf("expected encrypted keystore, got %v %v", encrypted, err)
	}

	env := &cliEnv{configPath: cfgPath, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	signer, err := env.signer(sealedPath)
	if err != nil {
		t.Fatalf("unlock keystore: %v", err)
	}
	if signer.PubKey().String() != strings.TrimSpace(res.stdout) {
		t.Fatalf("unlocked %s, keygen printed %q", signer.PubKey(), res.stdout)
	}
}

func TestReconciledLifecycle(t *testing.T) {
	f := newCLIFixture(t)
	mustSucceed(t, runCLI(f.cfgPath, "db", "migrate"))
	f.seed(t)

	var view struct {
		Phase   string `json:"phase"`
		IsOwner bool   `json:"isOwner"`
	}
	mustSucceed(t, runCLI(f.cfgPath, "view", "--apartment", "apt-1", "--profile", "prof-owner")).decode(t, &view)
	if view.Phase != "AWAITING_INIT" || !view.IsOwner {
		t.Fatalf("unexpected owner view %+v", view)
	}

	res := runCLI(f.cfgPath, "escrow", "get", "--apartment", "apt-1")
	if res.code != 1 || !strings.Contains(res.stderr, "escrow for apt-1 not found") {
		t.Fatalf("expected missing escrow, got %d %q", res.code, res.stderr)
	}

	res = runCLI(f.cfgPath, "stake", "--apartment", "apt-1", "--profile", "prof-tenant", "--keystore", f.tenantKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "action not offered") {
		t.Fatalf("stake before initialize should be refused, got %d %q", res.code, res.stderr)
	}

	var out actionOutput
	mustSucceed(t, runCLI(f.cfgPath, "initialize", "--apartment", "apt-1", "--profile", "prof-owner", "--keystore", f.ownerKeystore)).decode(t, &out)
	if out.Signature == "" || out.Phase != "ACTIVE_DASHBOARD" {
		t.Fatalf("unexpected initialize output %+v", out)
	}
	if out.Event == nil || out.Event.Type != native.EventTypeInitialized || out.Event.Attributes["signature"] != out.Signature {
		t.Fatalf("unexpected initialize event %+v", out.Event)
	}

	var acct escrowOutput
	mustSucceed(t, runCLI(f.cfgPath, "escrow", "get", "--apartment", "apt-1")).decode(t, &acct)
	if acct.Lessor != f.owner.PubKey().String() || !acct.IsActive {
		t.Fatalf("unexpected escrow %+v", acct)
	}

	out = actionOutput{}
	mustSucceed(t, runCLI(f.cfgPath, "stake", "--apartment", "apt-1", "--profile", "prof-tenant", "--keystore", f.tenantKeystore)).decode(t, &out)
	if out.Signature == "" {
		t.Fatalf("stake returned no signature")
	}

	var stakes []stakeOutput
	mustSucceed(t, runCLI(f.cfgPath, "stakes", "list", "--apartment", "apt-1")).decode(t, &stakes)
	if len(stakes) != 1 || stakes[0].TenantProfileID != "prof-tenant" || stakes[0].Amount != 1_000_000 || !stakes[0].IsActive {
		t.Fatalf("unexpected stakes %+v", stakes)
	}
	if stakes[0].Staker != f.tenant.PubKey().String() {
		t.Fatalf("staker %s, want tenant", stakes[0].Staker)
	}

	csvPath := filepath.Join(f.dir, "stakes.csv")
	parquetPath := filepath.Join(f.dir, "stakes.parquet")
	res = mustSucceed(t, runCLI(f.cfgPath, "stakes", "export", "--apartment", "apt-1", "--csv", csvPath, "--parquet", parquetPath))
	if !strings.Contains(res.stdout, "exported 1 stake records") {
		t.Fatalf("unexpected export output %q", res.stdout)
	}
	csvData, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "apartment_id,stake_address") || !strings.Contains(lines[1], ",tomas,") {
		t.Fatalf("unexpected csv %q", csvData)
	}
	if info, err := os.Stat(parquetPath); err != nil || info.Size() == 0 {
		t.Fatalf("parquet not written: %v", err)
	}

	res = runCLI(f.cfgPath, "resolve", "--apartment", "apt-1", "--profile", "prof-tenant", "--tenant", "prof-tenant", "--keystore", f.tenantKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "action not offered") {
		t.Fatalf("tenant must not resolve, got %d %q", res.code, res.stderr)
	}

	out = actionOutput{}
	mustSucceed(t, runCLI(f.cfgPath, "resolve", "--apartment", "apt-1", "--profile", "prof-owner", "--tenant", "prof-tenant", "--keystore", f.ownerKeystore)).decode(t, &out)
	if out.Signature == "" {
		t.Fatalf("resolve returned no signature")
	}

	var record stakeOutput
	mustSucceed(t, runCLI(f.cfgPath, "stakes", "get", "--apartment", "apt-1", "--profile", "prof-tenant")).decode(t, &record)
	if record.IsActive {
		t.Fatalf("stake still active after resolve")
	}
	balance, err := f.fake.GetBalance(context.Background(), f.referrer.PubKey())
	if err != nil || balance != 300 {
		t.Fatalf("referrer balance %d (%v), want 300", balance, err)
	}

	res = runCLI(f.cfgPath, "slash", "--apartment", "apt-1", "--profile", "prof-owner", "--tenant", "prof-tenant", "--keystore", f.ownerKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "action not offered") {
		t.Fatalf("slash after resolve should be refused, got %d %q", res.code, res.stderr)
	}
}

func TestDirectSubmissionBypassesMarketplace(t *testing.T) {
	f := newCLIFixture(t)
	ctx := context.Background()

	var out actionOutput
	mustSucceed(t, runCLI(f.cfgPath, "initialize", "--apartment", "apt-9", "--direct", "--keystore", f.ownerKeystore)).decode(t, &out)
	if out.Signature == "" || out.Phase != "" {
		t.Fatalf("unexpected direct initialize output %+v", out)
	}

	res := runCLI(f.cfgPath, "stake", "--apartment", "apt-9", "--profile", "prof-x", "--direct", "--keystore", f.tenantKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "--amount is required with --direct") {
		t.Fatalf("expected amount error, got %d %q", res.code, res.stderr)
	}
	sends := f.fake.SendCount()
	res = runCLI(f.cfgPath, "stake", "--apartment", "apt-9", "--profile", "prof-x", "--amount", "999999999", "--direct", "--keystore", f.tenantKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "insufficient balance") {
		t.Fatalf("expected balance error, got %d %q", res.code, res.stderr)
	}
	if f.fake.SendCount() != sends {
		t.Fatalf("underfunded stake must not be sent")
	}
	mustSucceed(t, runCLI(f.cfgPath, "stake", "--apartment", "apt-9", "--profile", "prof-x", "--amount", "5000", "--direct", "--keystore", f.tenantKeystore))

	var batch []stakeOutput
	mustSucceed(t, runCLI(f.cfgPath, "stakes", "get", "--apartment", "apt-9", "--profile", "prof-x,prof-none")).decode(t, &batch)
	if len(batch) != 1 || batch[0].TenantProfileID != "prof-x" || batch[0].Amount != 5000 {
		t.Fatalf("unexpected batch read %+v", batch)
	}

	mustSucceed(t, runCLI(f.cfgPath, "slash", "--apartment", "apt-9", "--tenant", "prof-x", "--direct", "--keystore", f.ownerKeystore))
	penalty, err := f.fake.GetBalance(ctx, f.program.PenaltyAddress)
	if err != nil || penalty != 5000 {
		t.Fatalf("penalty balance %d (%v), want 5000", penalty, err)
	}

	res = runCLI(f.cfgPath, "resolve", "--apartment", "apt-9", "--tenant", "prof-x", "--direct", "--keystore", f.ownerKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "StakeInactive") {
		t.Fatalf("expected on-chain rejection, got %d %q", res.code, res.stderr)
	}

	res = runCLI(f.cfgPath, "slash", "--apartment", "apt-9", "--tenant", "prof-y", "--direct", "--keystore", f.ownerKeystore)
	if res.code != 1 || !strings.Contains(res.stderr, "stake record for prof-y") {
		t.Fatalf("expected missing record error, got %d %q", res.code, res.stderr)
	}
}

func TestBalance(t *testing.T) {
	f := newCLIFixture(t)

	var out balanceOutput
	mustSucceed(t, runCLI(f.cfgPath, "balance", "--keystore", f.tenantKeystore)).decode(t, &out)
	if out.Wallet != f.tenant.PubKey().String() || out.Lamports != 50_000_000 {
		t.Fatalf("unexpected tenant balance %+v", out)
	}
	mustSucceed(t, runCLI(f.cfgPath, "balance", "--wallet", f.referrer.PubKey().String())).decode(t, &out)
	if out.Wallet != f.referrer.PubKey().String() || out.Lamports != 0 {
		t.Fatalf("unexpected referrer balance %+v", out)
	}
	res := runCLI(f.cfgPath, "balance", "--wallet", "not-base58!")
	if res.code != 1 || !strings.Contains(res.stderr, "--wallet") {
		t.Fatalf("expected wallet error, got %d %q", res.code, res.stderr)
	}
}
