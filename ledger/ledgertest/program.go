package ledgertest

import (
	"fmt"

	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	"stakeshack/native/escrow"
)

// rentExemptLamports is charged to the payer for every account the program
// allocates.
const rentExemptLamports = 2_000_000

type executor struct {
	program  escrow.Program
	accounts map[crypto.PublicKey]*ledger.AccountInfo
}

func programError(name string, code int, logs ...string) *ledger.RPCError {
	lines := append([]string{"Program log: Instruction: " + name}, logs...)
	return simulationFailure(
		fmt.Sprintf("Error processing Instruction 0: custom program error: %#x", code),
		lines,
	)
}

func anchorError(name, errName string, code int, msg string) *ledger.RPCError {
	return programError(name, code, fmt.Sprintf("Program log: AnchorError occurred. Error Code: %s. Error Number: %d. Error Message: %s.", errName, code, msg))
}

func (e *executor) wallet(key crypto.PublicKey) *ledger.AccountInfo {
	acct, ok := e.accounts[key]
	if !ok {
		acct = &ledger.AccountInfo{Owner: escrow.SystemProgramID}
		e.accounts[key] = acct
	}
	return acct
}

func (e *executor) debit(name string, key crypto.PublicKey, amount uint64) *ledger.RPCError {
	acct := e.wallet(key)
	if acct.Lamports < amount {
		return programError(name, 0x1, fmt.Sprintf("Transfer: insufficient lamports %d, need %d", acct.Lamports, amount))
	}
	acct.Lamports -= amount
	return nil
}

func (e *executor) allocate(name string, key crypto.PublicKey) *ledger.RPCError {
	if _, exists := e.accounts[key]; exists {
		return simulationFailure(
			"Error processing Instruction 0: custom program error: 0x0",
			[]string{
				"Program log: Instruction: " + name,
				fmt.Sprintf("Allocate: account Address { address: %s, base: None } already in use", key),
			},
		)
	}
	return nil
}

func (e *executor) loadEscrow(name string, key crypto.PublicKey) (*escrow.EscrowAccount, *ledger.RPCError) {
	acct, ok := e.accounts[key]
	if !ok || acct.Owner != e.program.ID {
		return nil, anchorError(name, "AccountNotInitialized", 3012, "The program expected this account to be already initialized")
	}
	var state escrow.EscrowAccount
	if err := state.UnmarshalBinary(acct.Data); err != nil {
		return nil, anchorError(name, "AccountDidNotDeserialize", 3003, "Failed to deserialize the account")
	}
	return &state, nil
}

func (e *executor) loadStake(name string, key crypto.PublicKey) (*escrow.StakeRecord, *ledger.RPCError) {
	acct, ok := e.accounts[key]
	if !ok || acct.Owner != e.program.ID {
		return nil, anchorError(name, "AccountNotInitialized", 3012, "The program expected this account to be already initialized")
	}
	var state escrow.StakeRecord
	if err := state.UnmarshalBinary(acct.Data); err != nil {
		return nil, anchorError(name, "AccountDidNotDeserialize", 3003, "Failed to deserialize the account")
	}
	return &state, nil
}

func (e *executor) store(key crypto.PublicKey, value interface{ MarshalBinary() ([]byte, error) }) {
	data, err := value.MarshalBinary()
	if err != nil {
		panic(err)
	}
	acct := e.wallet(key)
	acct.Owner = e.program.ID
	acct.Data = data
}

func (e *executor) checkAccounts(name string, ix types.Instruction, want int, signerSlot int) *ledger.RPCError {
	if len(ix.Accounts) < want {
		return anchorError(name, "AccountNotEnoughKeys", 3005, "Not enough account keys given to the instruction")
	}
	if !ix.Accounts[signerSlot].IsSigner {
		return anchorError(name, "AccountNotSigner", 3010, "The given account did not sign")
	}
	return nil
}

func (e *executor) checkSeeds(name string, got crypto.PublicKey, seeds [][]byte) (uint8, *ledger.RPCError) {
	want, bump, err := crypto.FindProgramAddress(seeds, e.program.ID)
	if err != nil || want != got {
		return 0, anchorError(name, "ConstraintSeeds", 2006, "A seeds constraint was violated")
	}
	return bump, nil
}

func (e *executor) run(ix types.Instruction) error {
	decoded, err := escrow.DecodeInstruction(ix.Data)
	if err != nil {
		return anchorError("unknown", "InstructionDidNotDeserialize", 102, err.Error())
	}
	switch decoded.Kind {
	case escrow.InstructionInitialize:
		return e.initialize(ix, decoded.Initialize)
	case escrow.InstructionStake:
		return e.stake(ix, decoded.Stake)
	case escrow.InstructionResolve:
		return e.resolve(ix, decoded.Resolve)
	case escrow.InstructionSlash:
		return e.slash(ix, decoded.Slash)
	default:
		return anchorError("unknown", "InstructionFallbackNotFound", 101, "Fallback functions are not supported")
	}
}

func (e *executor) initialize(ix types.Instruction, args *escrow.InitializeArgs) error {
	const name = "Initialize"
	if err := e.checkAccounts(name, ix, 4, 2); err != nil {
		return err
	}
	escrowKey, lessor, payer := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, ix.Accounts[2].PublicKey
	bump, rpcErr := e.checkSeeds(name, escrowKey, [][]byte{[]byte("escrow"), args.ApartmentHash[:]})
	if rpcErr != nil {
		return rpcErr
	}
	if rpcErr := e.allocate(name, escrowKey); rpcErr != nil {
		return rpcErr
	}
	if rpcErr := e.debit(name, payer, rentExemptLamports); rpcErr != nil {
		return rpcErr
	}
	e.store(escrowKey, &escrow.EscrowAccount{
		ApartmentID: args.ApartmentID,
		Lessor:      lessor,
		IsActive:    true,
		Bump:        bump,
	})
	e.accounts[escrowKey].Lamports = rentExemptLamports
	return nil
}

func (e *executor) stake(ix types.Instruction, args *escrow.StakeArgs) error {
	const name = "Stake"
	if err := e.checkAccounts(name, ix, 4, 2); err != nil {
		return err
	}
	escrowKey, stakeKey, staker := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, ix.Accounts[2].PublicKey
	if _, rpcErr := e.checkSeeds(name, escrowKey, [][]byte{[]byte("escrow"), args.ApartmentHash[:]}); rpcErr != nil {
		return rpcErr
	}
	state, rpcErr := e.loadEscrow(name, escrowKey)
	if rpcErr != nil {
		return rpcErr
	}
	bump, rpcErr := e.checkSeeds(name, stakeKey, [][]byte{[]byte("stake"), args.ApartmentHash[:], args.ProfileHash[:]})
	if rpcErr != nil {
		return rpcErr
	}
	if args.Amount == 0 {
		return anchorError(name, "InvalidAmount", 6000, "Stake amount must be positive")
	}
	if rpcErr := e.allocate(name, stakeKey); rpcErr != nil {
		return rpcErr
	}
	if rpcErr := e.debit(name, staker, args.Amount+rentExemptLamports); rpcErr != nil {
		return rpcErr
	}
	e.store(stakeKey, &escrow.StakeRecord{
		TenantProfileID: args.ProfileID,
		ApartmentID:     args.ApartmentID,
		Staker:          staker,
		Amount:          args.Amount,
		IsActive:        true,
		Bump:            bump,
	})
	e.accounts[stakeKey].Lamports = rentExemptLamports
	state.TotalStaked += args.Amount
	e.store(escrowKey, state)
	e.accounts[escrowKey].Lamports += args.Amount
	return nil
}

func (e *executor) settle(name string, ix types.Instruction, apartmentHash, profileHash [32]byte) (*escrow.EscrowAccount, *escrow.StakeRecord, *ledger.RPCError) {
	escrowKey, stakeKey, owner := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, ix.Accounts[2].PublicKey
	if _, rpcErr := e.checkSeeds(name, escrowKey, [][]byte{[]byte("escrow"), apartmentHash[:]}); rpcErr != nil {
		return nil, nil, rpcErr
	}
	if _, rpcErr := e.checkSeeds(name, stakeKey, [][]byte{[]byte("stake"), apartmentHash[:], profileHash[:]}); rpcErr != nil {
		return nil, nil, rpcErr
	}
	state, rpcErr := e.loadEscrow(name, escrowKey)
	if rpcErr != nil {
		return nil, nil, rpcErr
	}
	if state.Lessor != owner {
		return nil, nil, anchorError(name, "Unauthorized", 6001, "Only the lessor may settle stakes")
	}
	record, rpcErr := e.loadStake(name, stakeKey)
	if rpcErr != nil {
		return nil, nil, rpcErr
	}
	if !record.IsActive {
		return nil, nil, anchorError(name, "StakeInactive", 6002, "Stake record is no longer active")
	}
	return state, record, nil
}

func (e *executor) release(escrowKey, stakeKey crypto.PublicKey, state *escrow.EscrowAccount, record *escrow.StakeRecord, to crypto.PublicKey) {
	e.accounts[escrowKey].Lamports -= record.Amount
	e.wallet(to).Lamports += record.Amount
	state.TotalStaked -= record.Amount
	record.IsActive = false
	e.store(escrowKey, state)
	e.store(stakeKey, record)
}

func (e *executor) resolve(ix types.Instruction, args *escrow.ResolveArgs) error {
	const name = "Resolve"
	if err := e.checkAccounts(name, ix, 5, 2); err != nil {
		return err
	}
	state, record, rpcErr := e.settle(name, ix, args.ApartmentHash, args.ProfileHash)
	if rpcErr != nil {
		return rpcErr
	}
	owner, staker, referrer := ix.Accounts[2].PublicKey, ix.Accounts[3].PublicKey, ix.Accounts[4].PublicKey
	if record.Staker != staker {
		return anchorError(name, "ConstraintHasOne", 2001, "A has one constraint was violated")
	}
	if args.RewardAmount > 0 && referrer != owner {
		if rpcErr := e.debit(name, owner, args.RewardAmount); rpcErr != nil {
			return rpcErr
		}
		e.wallet(referrer).Lamports += args.RewardAmount
	}
	e.release(ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, state, record, staker)
	return nil
}

func (e *executor) slash(ix types.Instruction, args *escrow.SlashArgs) error {
	const name = "Slash"
	if err := e.checkAccounts(name, ix, 4, 2); err != nil {
		return err
	}
	state, record, rpcErr := e.settle(name, ix, args.ApartmentHash, args.ProfileHash)
	if rpcErr != nil {
		return rpcErr
	}
	if ix.Accounts[3].PublicKey != e.program.PenaltyAddress {
		return anchorError(name, "ConstraintAddress", 2012, "An address constraint was violated")
	}
	e.release(ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, state, record, e.program.PenaltyAddress)
	return nil
}
