package escrow

import (
	"fmt"
	"strings"

	"stakeshack/core/types"
	"stakeshack/crypto"
)

// Operation is a single escrow program call ready for submission: the program
// id, the positional account list, and the encoded payload.
type Operation struct {
	Kind        InstructionKind
	Instruction types.Instruction
}

// Name is the instruction name used in errors and metrics.
func (o *Operation) Name() string {
	return o.Kind.String()
}

// Instructions returns the operation as a one-instruction batch.
func (o *Operation) Instructions() []types.Instruction {
	return []types.Instruction{o.Instruction}
}

func checkID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyID, field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s is %d bytes", ErrIDTooLong, field, len(id))
	}
	return nil
}

func writable(key crypto.PublicKey) types.AccountMeta {
	return types.AccountMeta{PublicKey: key, IsWritable: true}
}

func readonly(key crypto.PublicKey) types.AccountMeta {
	return types.AccountMeta{PublicKey: key}
}

func signer(key crypto.PublicKey) types.AccountMeta {
	return types.AccountMeta{PublicKey: key, IsSigner: true, IsWritable: true}
}

// BuildInitialize creates the apartment's escrow account. The lessor is
// recorded on the account; the payer funds its allocation and signs.
func (p Program) BuildInitialize(apartmentID string, lessor, payer crypto.PublicKey) (*Operation, error) {
	if err := checkID("apartment id", apartmentID); err != nil {
		return nil, err
	}
	escrowAddr, err := p.EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	data, err := InitializeArgs{
		ApartmentID:   apartmentID,
		ApartmentHash: crypto.HashSeed(apartmentID),
	}.Encode()
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind: InstructionInitialize,
		Instruction: types.Instruction{
			ProgramID: p.ID,
			Accounts: []types.AccountMeta{
				writable(escrowAddr),
				readonly(lessor),
				signer(payer),
				readonly(SystemProgramID),
			},
			Data: data,
		},
	}, nil
}

// BuildStake deposits amount from the staker into a new stake record.
func (p Program) BuildStake(apartmentID, profileID string, amount uint64, staker crypto.PublicKey) (*Operation, error) {
	if err := checkID("apartment id", apartmentID); err != nil {
		return nil, err
	}
	if err := checkID("profile id", profileID); err != nil {
		return nil, err
	}
	escrowAddr, err := p.EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	stakeAddr, err := p.StakeAddress(apartmentID, profileID)
	if err != nil {
		return nil, err
	}
	data, err := StakeArgs{
		ApartmentID:   apartmentID,
		ProfileID:     profileID,
		ApartmentHash: crypto.HashSeed(apartmentID),
		ProfileHash:   crypto.HashSeed(profileID),
		Amount:        amount,
	}.Encode()
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind: InstructionStake,
		Instruction: types.Instruction{
			ProgramID: p.ID,
			Accounts: []types.AccountMeta{
				writable(escrowAddr),
				writable(stakeAddr),
				signer(staker),
				readonly(SystemProgramID),
			},
			Data: data,
		},
	}, nil
}

// BuildResolve returns the stake to the staker and routes rewardAmount to the
// referrer. The program expects five accounts, so the owner fills the
// referrer slot when referrer is nil.
func (p Program) BuildResolve(apartmentID, profileID string, owner, staker crypto.PublicKey, referrer *crypto.PublicKey, rewardAmount uint64) (*Operation, error) {
	if err := checkID("apartment id", apartmentID); err != nil {
		return nil, err
	}
	if err := checkID("profile id", profileID); err != nil {
		return nil, err
	}
	escrowAddr, err := p.EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	stakeAddr, err := p.StakeAddress(apartmentID, profileID)
	if err != nil {
		return nil, err
	}
	referrerSlot := owner
	if referrer != nil {
		referrerSlot = *referrer
	}
	data, err := ResolveArgs{
		ApartmentHash: crypto.HashSeed(apartmentID),
		ProfileHash:   crypto.HashSeed(profileID),
		RewardAmount:  rewardAmount,
	}.Encode()
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind: InstructionResolve,
		Instruction: types.Instruction{
			ProgramID: p.ID,
			Accounts: []types.AccountMeta{
				writable(escrowAddr),
				writable(stakeAddr),
				signer(owner),
				writable(staker),
				writable(referrerSlot),
			},
			Data: data,
		},
	}, nil
}

// BuildSlash forfeits the stake to the penalty address. The staker is
// accepted so call sites mirror BuildResolve; the program does not take it.
func (p Program) BuildSlash(apartmentID, profileID string, owner, _ crypto.PublicKey) (*Operation, error) {
	if err := checkID("apartment id", apartmentID); err != nil {
		return nil, err
	}
	if err := checkID("profile id", profileID); err != nil {
		return nil, err
	}
	escrowAddr, err := p.EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	stakeAddr, err := p.StakeAddress(apartmentID, profileID)
	if err != nil {
		return nil, err
	}
	data, err := SlashArgs{
		ApartmentHash: crypto.HashSeed(apartmentID),
		ProfileHash:   crypto.HashSeed(profileID),
	}.Encode()
	if err != nil {
		return nil, err
	}
	return &Operation{
		Kind: InstructionSlash,
		Instruction: types.Instruction{
			ProgramID: p.ID,
			Accounts: []types.AccountMeta{
				writable(escrowAddr),
				writable(stakeAddr),
				signer(owner),
				writable(p.PenaltyAddress),
			},
			Data: data,
		},
	}, nil
}
