package escrow

import (
	"bytes"
	"errors"
	"testing"

	"stakeshack/core/types"
	"stakeshack/crypto"
)

func testKey(fill byte) crypto.PublicKey {
	return crypto.NewPublicKey(bytes.Repeat([]byte{fill}, 32))
}

func assertAccounts(t *testing.T, got []types.AccountMeta, want []types.AccountMeta) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d accounts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("account %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestDerivedAddressVectors(t *testing.T) {
	p := DefaultProgram()
	escrowAddr, bump, err := DeriveEscrowAddress(p.ID, "apt-1")
	if err != nil {
		t.Fatalf("derive escrow: %v", err)
	}
	if escrowAddr.String() != "EYPUqgQNLo376Z6Ax4juziUzFnSPLLu6jiCfRGMpjnux" || bump != 255 {
		t.Fatalf("escrow address %s/%d", escrowAddr, bump)
	}
	stakeAddr, bump, err := DeriveStakeAddress(p.ID, "apt-1", "prof-7")
	if err != nil {
		t.Fatalf("derive stake: %v", err)
	}
	if stakeAddr.String() != "9KWWS33HbGYEcaGpp49GHKYzesbFCxA3b1sCJCyEkmjQ" || bump != 255 {
		t.Fatalf("stake address %s/%d", stakeAddr, bump)
	}
	other, bump, err := DeriveStakeAddress(p.ID, "apt-2", "prof-1")
	if err != nil {
		t.Fatalf("derive stake: %v", err)
	}
	if other.String() != "7TT1KwnfNtgHLmokqJXHoz3f4QxwEAnBqoFLPuNw3kyW" || bump != 254 {
		t.Fatalf("stake address %s/%d", other, bump)
	}
}

func TestDerivationDomainSeparation(t *testing.T) {
	p := DefaultProgram()
	escrowAddr, err := p.EscrowAddress("apt-1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	stakeAddr, err := p.StakeAddress("apt-1", "prof-7")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if escrowAddr == stakeAddr {
		t.Fatalf("escrow and stake addresses collided")
	}
	swapped, err := p.StakeAddress("prof-7", "apt-1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if swapped == stakeAddr {
		t.Fatalf("seed order must matter")
	}
	otherProgram := Program{ID: testKey(0x44), PenaltyAddress: DefaultPenaltyAddress}
	moved, err := otherProgram.EscrowAddress("apt-1")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if moved == escrowAddr {
		t.Fatalf("program id must be part of the derivation")
	}
}

func TestBuildInitializeAccounts(t *testing.T) {
	p := DefaultProgram()
	lessor, payer := testKey(1), testKey(2)
	op, err := p.BuildInitialize("apt-1", lessor, payer)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	escrowAddr, _ := p.EscrowAddress("apt-1")
	assertAccounts(t, op.Instruction.Accounts, []types.AccountMeta{
		{PublicKey: escrowAddr, IsWritable: true},
		{PublicKey: lessor},
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: SystemProgramID},
	})
	if op.Name() != "initialize" || op.Instruction.ProgramID != p.ID {
		t.Fatalf("unexpected operation metadata")
	}
	decoded, err := DecodeInstruction(op.Instruction.Data)
	if err != nil || decoded.Initialize.ApartmentID != "apt-1" || decoded.Initialize.ApartmentHash != crypto.HashSeed("apt-1") {
		t.Fatalf("initialize payload mismatch: %+v %v", decoded.Initialize, err)
	}
}

func TestBuildStakeAccounts(t *testing.T) {
	p := DefaultProgram()
	staker := testKey(3)
	op, err := p.BuildStake("apt-1", "prof-7", 500, staker)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	escrowAddr, _ := p.EscrowAddress("apt-1")
	stakeAddr, _ := p.StakeAddress("apt-1", "prof-7")
	assertAccounts(t, op.Instruction.Accounts, []types.AccountMeta{
		{PublicKey: escrowAddr, IsWritable: true},
		{PublicKey: stakeAddr, IsWritable: true},
		{PublicKey: staker, IsSigner: true, IsWritable: true},
		{PublicKey: SystemProgramID},
	})
	decoded, err := DecodeInstruction(op.Instruction.Data)
	if err != nil || decoded.Stake.Amount != 500 || decoded.Stake.ProfileID != "prof-7" {
		t.Fatalf("stake payload mismatch: %+v %v", decoded.Stake, err)
	}
}

func TestBuildResolveReferrerSlot(t *testing.T) {
	p := DefaultProgram()
	owner, staker, referrer := testKey(1), testKey(3), testKey(5)
	escrowAddr, _ := p.EscrowAddress("apt-1")
	stakeAddr, _ := p.StakeAddress("apt-1", "prof-7")

	withReferrer, err := p.BuildResolve("apt-1", "prof-7", owner, staker, &referrer, 10)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	assertAccounts(t, withReferrer.Instruction.Accounts, []types.AccountMeta{
		{PublicKey: escrowAddr, IsWritable: true},
		{PublicKey: stakeAddr, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: true},
		{PublicKey: staker, IsWritable: true},
		{PublicKey: referrer, IsWritable: true},
	})

	withoutReferrer, err := p.BuildResolve("apt-1", "prof-7", owner, staker, nil, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	accounts := withoutReferrer.Instruction.Accounts
	if len(accounts) != 5 || accounts[4].PublicKey != owner {
		t.Fatalf("owner must fill the referrer slot, got %+v", accounts)
	}
}

func TestBuildSlashOmitsStaker(t *testing.T) {
	p := DefaultProgram()
	owner, staker := testKey(1), testKey(3)
	op, err := p.BuildSlash("apt-1", "prof-7", owner, staker)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	escrowAddr, _ := p.EscrowAddress("apt-1")
	stakeAddr, _ := p.StakeAddress("apt-1", "prof-7")
	assertAccounts(t, op.Instruction.Accounts, []types.AccountMeta{
		{PublicKey: escrowAddr, IsWritable: true},
		{PublicKey: stakeAddr, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: true},
		{PublicKey: DefaultPenaltyAddress, IsWritable: true},
	})
	for _, meta := range op.Instruction.Accounts {
		if meta.PublicKey == staker {
			t.Fatalf("staker must not appear in slash accounts")
		}
	}
}

func TestBuildRejectsBadIdentifiers(t *testing.T) {
	p := DefaultProgram()
	if _, err := p.BuildInitialize("  ", testKey(1), testKey(1)); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID, got %v", err)
	}
	if _, err := p.BuildStake("apt-1", string(make([]byte, MaxIDLength+1)), 1, testKey(1)); !errors.Is(err, ErrIDTooLong) {
		t.Fatalf("expected ErrIDTooLong, got %v", err)
	}
}

func TestNewProgramOverrides(t *testing.T) {
	p, err := NewProgram("", "")
	if err != nil || p != DefaultProgram() {
		t.Fatalf("empty overrides should keep defaults: %+v %v", p, err)
	}
	override := testKey(7)
	p, err = NewProgram(override.String(), "")
	if err != nil || p.ID != override || p.PenaltyAddress != DefaultPenaltyAddress {
		t.Fatalf("override not applied: %+v %v", p, err)
	}
	if _, err := NewProgram("not-a-key", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
