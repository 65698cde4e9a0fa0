package main

import (
	"fmt"
	"os"
	"strings"

	"stakeshack/crypto"
	native "stakeshack/native/escrow"
)

func runKeygen(env *cliEnv, args []string) int {
	fs := newFlagSet("keygen", env.stderr)
	var (
		out   string
		plain bool
	)
	fs.StringVar(&out, "out", "", "path of the keystore to write")
	fs.BoolVar(&plain, "plain", false, "write an unencrypted Solana CLI keypair instead of a keystore")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(env.stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil {
		return printError(env.stderr, fmt.Sprintf("%s already exists", out))
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	if plain {
		data, err := key.MarshalKeypairJSON()
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return printError(env.stderr, err.Error())
		}
	} else {
		cfg, err := env.loadConfig()
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		pass, err := newPassphraseSource(cfg.Wallet.PassphraseEnv).Get()
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		if err := crypto.SaveToKeystore(out, key, pass); err != nil {
			return printError(env.stderr, err.Error())
		}
	}
	fmt.Fprintln(env.stdout, key.PubKey().String())
	return 0
}

type derivedAddresses struct {
	ProgramID   string `json:"programId"`
	ApartmentID string `json:"apartmentId"`
	Escrow      string `json:"escrow"`
	EscrowBump  uint8  `json:"escrowBump"`
	ProfileID   string `json:"profileId,omitempty"`
	Stake       string `json:"stake,omitempty"`
	StakeBump   *uint8 `json:"stakeBump,omitempty"`
}

func runDerive(env *cliEnv, args []string) int {
	fs := newFlagSet("derive", env.stderr)
	var apartmentID, profileID string
	fs.StringVar(&apartmentID, "apartment", "", "apartment identifier")
	fs.StringVar(&profileID, "profile", "", "optional tenant profile identifier")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	if apartmentID == "" {
		return printError(env.stderr, "--apartment is required")
	}
	program, err := env.program()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	escrowAddr, escrowBump, err := native.DeriveEscrowAddress(program.ID, apartmentID)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	out := derivedAddresses{
		ProgramID:   program.ID.String(),
		ApartmentID: apartmentID,
		Escrow:      escrowAddr.String(),
		EscrowBump:  escrowBump,
	}
	if profileID != "" {
		stakeAddr, stakeBump, err := native.DeriveStakeAddress(program.ID, apartmentID, profileID)
		if err != nil {
			return printError(env.stderr, err.Error())
		}
		out.ProfileID = profileID
		out.Stake = stakeAddr.String()
		out.StakeBump = &stakeBump
	}
	return writeJSON(env.stdout, out)
}
