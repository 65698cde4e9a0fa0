package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	"stakeshack/reconcile"
)

type actionOutput struct {
	Action    string       `json:"action"`
	Apartment string       `json:"apartmentId"`
	Signature string       `json:"signature"`
	Phase     string       `json:"phase,omitempty"`
	Event     *types.Event `json:"event,omitempty"`
}

type actionFlags struct {
	apartmentID string
	profileID   string
	tenantID    string
	amount      string
	reward      string
	referrer    string
	keystore    string
	direct      bool
}

// runAction signs a transition with the configured keystore. By default the
// request goes through the reconciler, so the marketplace database must agree
// that the action is offered. --direct skips those checks and submits the
// instruction as given.
func runAction(env *cliEnv, name string, args []string) int {
	action, err := reconcile.ParseAction(name)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	fs := newFlagSet(name, env.stderr)
	var f actionFlags
	fs.StringVar(&f.apartmentID, "apartment", "", "apartment identifier")
	fs.StringVar(&f.profileID, "profile", "", "acting profile (the tenant for stake)")
	fs.StringVar(&f.keystore, "keystore", "", "keystore path (overrides wallet.keystore_path)")
	fs.BoolVar(&f.direct, "direct", false, "submit without marketplace checks")
	switch action {
	case reconcile.ActionStake:
		fs.StringVar(&f.amount, "amount", "", "stake in lamports (defaults to the listed rent)")
	case reconcile.ActionResolve:
		fs.StringVar(&f.tenantID, "tenant", "", "tenant profile whose stake is resolved")
		fs.StringVar(&f.reward, "reward", "", "referral reward in lamports (--direct only)")
		fs.StringVar(&f.referrer, "referrer", "", "referrer wallet (--direct only)")
	case reconcile.ActionSlash:
		fs.StringVar(&f.tenantID, "tenant", "", "tenant profile whose stake is slashed")
	}
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	if f.apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	if !f.direct && f.profileID == "" {
		return printError(env.stderr, "--profile is required")
	}
	if action == reconcile.ActionStake && f.direct && f.profileID == "" {
		return printError(env.stderr, "--profile is required")
	}
	if (action == reconcile.ActionResolve || action == reconcile.ActionSlash) && f.tenantID == "" {
		return printError(env.stderr, "--tenant is required")
	}
	if !f.direct && (f.reward != "" || f.referrer != "") {
		return printError(env.stderr, "--reward and --referrer require --direct")
	}
	amount, err := parseLamports("--amount", f.amount)
	if err != nil {
		return printError(env.stderr, err.Error())
	}

	signer, err := env.signer(f.keystore)
	if err != nil {
		return printError(env.stderr, err.Error())
	}

	ctx := context.Background()
	out := actionOutput{Action: string(action), Apartment: f.apartmentID}
	if f.direct {
		out.Signature, err = submitDirect(ctx, env, action, f, amount, signer)
		if err != nil {
			return printSubmitError(env, err)
		}
		return writeJSON(env.stdout, out)
	}

	rec, err := env.reconciler(reconcile.WithEventSink(func(ev *types.Event) { out.Event = ev }))
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	wallet := signer.PubKey()
	session := reconcile.Session{ProfileID: f.profileID, Wallet: &wallet}
	req := reconcile.ActionRequest{
		ApartmentID: f.apartmentID,
		Action:      action,
		ProfileID:   f.tenantID,
		Amount:      amount,
		Signer:      signer,
	}
	result, err := rec.Execute(ctx, session, req)
	if result != nil {
		out.Signature = result.TxID
		if result.View != nil {
			out.Phase = string(result.View.Phase)
		}
	}
	if err != nil {
		if out.Signature != "" {
			fmt.Fprintf(env.stderr, "submitted %s but could not reload: %v\n", out.Signature, err)
			return writeJSON(env.stdout, out)
		}
		return printSubmitError(env, err)
	}
	return writeJSON(env.stdout, out)
}

// printSubmitError reports err and, for ledger rejections, the program logs.
func printSubmitError(env *cliEnv, err error) int {
	printError(env.stderr, err.Error())
	var subErr *ledger.SubmissionError
	if errors.As(err, &subErr) {
		for _, line := range subErr.Logs {
			fmt.Fprintf(env.stderr, "  log: %s\n", line)
		}
	}
	return 1
}

func submitDirect(ctx context.Context, env *cliEnv, action reconcile.Action, f actionFlags, amount uint64, signer *crypto.PrivateKey) (string, error) {
	client, err := env.escrowClient()
	if err != nil {
		return "", err
	}
	switch action {
	case reconcile.ActionInitialize:
		return client.Initialize(ctx, f.apartmentID, signer)
	case reconcile.ActionStake:
		if amount == 0 {
			return "", fmt.Errorf("--amount is required with --direct")
		}
		rpc, err := env.ledgerClient()
		if err != nil {
			return "", err
		}
		balance, err := rpc.GetBalance(ctx, signer.PubKey())
		if err != nil {
			return "", err
		}
		if balance < amount {
			return "", fmt.Errorf("insufficient balance: %s holds %d lamports, stake needs %d", signer.PubKey(), balance, amount)
		}
		return client.Stake(ctx, f.apartmentID, f.profileID, amount, signer)
	}

	record, err := client.Reader().ReadStakeRecord(ctx, f.apartmentID, f.tenantID)
	if err != nil {
		return "", fmt.Errorf("stake record for %s: %w", f.tenantID, err)
	}
	if action == reconcile.ActionSlash {
		return client.Slash(ctx, f.apartmentID, f.tenantID, signer, record.Staker)
	}
	reward, err := parseLamports("--reward", f.reward)
	if err != nil {
		return "", err
	}
	var referrer *crypto.PublicKey
	if f.referrer != "" {
		key, err := crypto.DecodePublicKey(f.referrer)
		if err != nil {
			return "", fmt.Errorf("--referrer: %w", err)
		}
		referrer = &key
	}
	return client.Resolve(ctx, f.apartmentID, f.tenantID, signer, record.Staker, referrer, reward)
}

func parseLamports(flagName, value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", flagName)
	}
	return n, nil
}
