package escrow

import (
	"stakeshack/crypto"
)

const (
	escrowSeedPrefix = "escrow"
	stakeSeedPrefix  = "stake"
)

// EscrowSeeds returns the seed list for an apartment's escrow account.
// Identifiers are hashed so that arbitrary-length ids fit the 32-byte seed
// limit.
func EscrowSeeds(apartmentID string) [][]byte {
	apt := crypto.HashSeed(apartmentID)
	return [][]byte{[]byte(escrowSeedPrefix), apt[:]}
}

// StakeSeeds returns the seed list for one tenant's stake record.
func StakeSeeds(apartmentID, profileID string) [][]byte {
	apt := crypto.HashSeed(apartmentID)
	prof := crypto.HashSeed(profileID)
	return [][]byte{[]byte(stakeSeedPrefix), apt[:], prof[:]}
}

// DeriveEscrowAddress computes the escrow account address and its bump.
func DeriveEscrowAddress(programID crypto.PublicKey, apartmentID string) (crypto.PublicKey, uint8, error) {
	return crypto.FindProgramAddress(EscrowSeeds(apartmentID), programID)
}

// DeriveStakeAddress computes the stake record address and its bump. A tenant
// has at most one stake record per apartment because the address depends only
// on the two identifiers.
func DeriveStakeAddress(programID crypto.PublicKey, apartmentID, profileID string) (crypto.PublicKey, uint8, error) {
	return crypto.FindProgramAddress(StakeSeeds(apartmentID, profileID), programID)
}

func (p Program) EscrowAddress(apartmentID string) (crypto.PublicKey, error) {
	addr, _, err := DeriveEscrowAddress(p.ID, apartmentID)
	return addr, err
}

func (p Program) StakeAddress(apartmentID, profileID string) (crypto.PublicKey, error) {
	addr, _, err := DeriveStakeAddress(p.ID, apartmentID, profileID)
	return addr, err
}
