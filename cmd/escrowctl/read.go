package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	coreerrors "stakeshack/core/errors"
	"stakeshack/crypto"
	native "stakeshack/native/escrow"
	"stakeshack/reconcile"
)

type escrowOutput struct {
	Address     string `json:"address"`
	ApartmentID string `json:"apartmentId"`
	Lessor      string `json:"lessor"`
	TotalStaked uint64 `json:"totalStaked"`
	IsActive    bool   `json:"isActive"`
	Bump        uint8  `json:"bump"`
}

type stakeOutput struct {
	Address         string `json:"address"`
	ApartmentID     string `json:"apartmentId"`
	TenantProfileID string `json:"tenantProfileId"`
	Staker          string `json:"staker"`
	Amount          uint64 `json:"amount"`
	IsActive        bool   `json:"isActive"`
	Bump            uint8  `json:"bump"`
}

func toEscrowOutput(addr crypto.PublicKey, acct *native.EscrowAccount) escrowOutput {
	return escrowOutput{
		Address:     addr.String(),
		ApartmentID: acct.ApartmentID,
		Lessor:      acct.Lessor.String(),
		TotalStaked: acct.TotalStaked,
		IsActive:    acct.IsActive,
		Bump:        acct.Bump,
	}
}

func toStakeOutput(addr crypto.PublicKey, rec *native.StakeRecord) stakeOutput {
	return stakeOutput{
		Address:         addr.String(),
		ApartmentID:     rec.ApartmentID,
		TenantProfileID: rec.TenantProfileID,
		Staker:          rec.Staker.String(),
		Amount:          rec.Amount,
		IsActive:        rec.IsActive,
		Bump:            rec.Bump,
	}
}

func runEscrowCommand(env *cliEnv, args []string) int {
	if len(args) == 0 || args[0] != "get" {
		if len(args) > 0 {
			fmt.Fprintf(env.stderr, "Unknown escrow subcommand: %s\n", args[0])
		}
		fmt.Fprintln(env.stderr, usage())
		return 1
	}
	fs := newFlagSet("escrow get", env.stderr)
	var apartmentID string
	fs.StringVar(&apartmentID, "apartment", "", "apartment identifier")
	if !parseFlags(fs, args[1:], env.stderr) {
		return 1
	}
	if apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	reader, err := env.reader()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	acct, err := reader.ReadEscrow(context.Background(), apartmentID)
	if err != nil {
		return readError(env, "escrow for "+apartmentID, err)
	}
	addr, err := reader.Program().EscrowAddress(apartmentID)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return writeJSON(env.stdout, toEscrowOutput(addr, acct))
}

func runStakesCommand(env *cliEnv, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(env.stderr, usage())
		return 1
	}
	switch args[0] {
	case "list":
		return runStakesList(env, args[1:])
	case "get":
		return runStakesGet(env, args[1:])
	case "export":
		return runStakesExport(env, args[1:])
	default:
		fmt.Fprintf(env.stderr, "Unknown stakes subcommand: %s\n", args[0])
		fmt.Fprintln(env.stderr, usage())
		return 1
	}
}

func runStakesList(env *cliEnv, args []string) int {
	fs := newFlagSet("stakes list", env.stderr)
	var apartmentID string
	fs.StringVar(&apartmentID, "apartment", "", "apartment identifier")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	if apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	reader, err := env.reader()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	entries, err := reader.ListStakeRecords(context.Background(), apartmentID)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	out := make([]stakeOutput, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toStakeOutput(entry.Address, &entry.Record))
	}
	return writeJSON(env.stdout, out)
}

func runStakesGet(env *cliEnv, args []string) int {
	fs := newFlagSet("stakes get", env.stderr)
	var apartmentID, profileID string
	fs.StringVar(&apartmentID, "apartment", "", "apartment identifier")
	fs.StringVar(&profileID, "profile", "", "tenant profile identifier, or a comma separated list")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	if apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	profileIDs := splitList(profileID)
	if len(profileIDs) == 0 {
		return printError(env.stderr, "--profile is required")
	}
	reader, err := env.reader()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	if len(profileIDs) > 1 {
		entries, err := reader.ReadStakeRecords(context.Background(), apartmentID, profileIDs...)
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		out := make([]stakeOutput, 0, len(entries))
		for _, entry := range entries {
			out = append(out, toStakeOutput(entry.Address, &entry.Record))
		}
		return writeJSON(env.stdout, out)
	}
	profileID = profileIDs[0]
	rec, err := reader.ReadStakeRecord(context.Background(), apartmentID, profileID)
	if err != nil {
		return readError(env, "stake record for "+profileID, err)
	}
	addr, err := reader.Program().StakeAddress(apartmentID, profileID)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return writeJSON(env.stdout, toStakeOutput(addr, rec))
}

func runStakesExport(env *cliEnv, args []string) int {
	fs := newFlagSet("stakes export", env.stderr)
	var apartments, csvPath, parquetPath string
	fs.StringVar(&apartments, "apartment", "", "comma separated apartment identifiers")
	fs.StringVar(&csvPath, "csv", "", "write the report as CSV to this path (- for stdout)")
	fs.StringVar(&parquetPath, "parquet", "", "write the report as Parquet to this path")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	ids := splitList(apartments)
	if len(ids) == 0 {
		return printError(env.stderr, "--apartment is required")
	}
	if csvPath == "" && parquetPath == "" {
		csvPath = "-"
	}
	store, err := env.openStore()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	reader, err := env.reader()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	rows, err := reconcile.BuildReport(context.Background(), store, reader, ids...)
	if err != nil {
		return printError(env.stderr, err.Error())
	}

	switch csvPath {
	case "":
	case "-":
		if err := reconcile.WriteCSV(env.stdout, rows); err != nil {
			return printError(env.stderr, err.Error())
		}
	default:
		f, err := os.Create(csvPath)
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		werr := reconcile.WriteCSV(f, rows)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return printError(env.stderr, werr.Error())
		}
	}
	if parquetPath != "" {
		if err := reconcile.WriteParquet(parquetPath, rows); err != nil {
			return printError(env.stderr, err.Error())
		}
	}
	if csvPath != "-" {
		fmt.Fprintf(env.stdout, "exported %d stake records\n", len(rows))
	}
	return 0
}

func runView(env *cliEnv, args []string) int {
	fs := newFlagSet("view", env.stderr)
	var apartmentID, profileID, wallet string
	fs.StringVar(&apartmentID, "apartment", "", "apartment identifier")
	fs.StringVar(&profileID, "profile", "", "profile to view the apartment as")
	fs.StringVar(&wallet, "wallet", "", "connected wallet (defaults to the profile's registered pubkey)")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	if apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	if profileID == "" {
		return printError(env.stderr, "--profile is required")
	}
	ctx := context.Background()
	session, err := sessionFor(ctx, env, profileID, wallet)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	rec, err := env.reconciler()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	view, err := rec.Load(ctx, session, apartmentID)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return writeJSON(env.stdout, view)
}

// sessionFor builds the session for profileID. An explicit wallet wins over
// the profile's registered pubkey.
func sessionFor(ctx context.Context, env *cliEnv, profileID, wallet string) (reconcile.Session, error) {
	session := reconcile.Session{ProfileID: profileID}
	if wallet = strings.TrimSpace(wallet); wallet != "" {
		key, err := crypto.DecodePublicKey(wallet)
		if err != nil {
			return session, fmt.Errorf("--wallet: %w", err)
		}
		session.Wallet = &key
		return session, nil
	}
	store, err := env.openStore()
	if err != nil {
		return session, err
	}
	profile, err := store.GetProfileByID(ctx, profileID)
	if err != nil {
		return session, err
	}
	if profile == nil {
		return session, fmt.Errorf("profile %s not found", profileID)
	}
	session.Wallet, err = profile.Wallet()
	return session, err
}

func readError(env *cliEnv, what string, err error) int {
	if errors.Is(err, coreerrors.ErrNotFound) {
		return printError(env.stderr, what+" not found")
	}
	return printError(env.stderr, err.Error())
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type balanceOutput struct {
	Wallet   string `json:"wallet"`
	Lamports uint64 `json:"lamports"`
}

// runBalance prints the lamport balance of --wallet, or of the configured
// keystore when no wallet is given.
func runBalance(env *cliEnv, args []string) int {
	fs := newFlagSet("balance", env.stderr)
	var wallet, keystore string
	fs.StringVar(&wallet, "wallet", "", "wallet address")
	fs.StringVar(&keystore, "keystore", "", "keystore path (overrides wallet.keystore_path)")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	var key crypto.PublicKey
	if wallet = strings.TrimSpace(wallet); wallet != "" {
		decoded, err := crypto.DecodePublicKey(wallet)
		if err != nil {
			return printError(env.stderr, "--wallet: "+err.Error())
		}
		key = decoded
	} else {
		signer, err := env.signer(keystore)
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		key = signer.PubKey()
	}
	rpc, err := env.ledgerClient()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	lamports, err := rpc.GetBalance(context.Background(), key)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	return writeJSON(env.stdout, balanceOutput{Wallet: key.String(), Lamports: lamports})
}
