package escrow

import (
	"stakeshack/crypto"
)

// MaxIDLength bounds the apartment and profile identifiers the program stores
// inline in its accounts.
const MaxIDLength = 256

var (
	// DefaultProgramID is the deployed marketplace escrow program.
	DefaultProgramID = crypto.MustPublicKey("3C6TrwZQ65PGSCTu3ijpuADYrDBpcxXR3zSMMrDa3sGp")
	// DefaultPenaltyAddress receives slashed stakes.
	DefaultPenaltyAddress = crypto.MustPublicKey("xskjpkDWSM1ANjByPSXEqkkpUQkn8jfg4vJVapehYqR")
	// SystemProgramID is the ledger's account allocation program.
	SystemProgramID = crypto.PublicKey{}
)

// Program identifies the escrow program deployment a client talks to.
type Program struct {
	ID             crypto.PublicKey
	PenaltyAddress crypto.PublicKey
}

// DefaultProgram returns the production deployment.
func DefaultProgram() Program {
	return Program{ID: DefaultProgramID, PenaltyAddress: DefaultPenaltyAddress}
}

// NewProgram parses base58 overrides. Empty strings fall back to the defaults.
func NewProgram(programID, penalty string) (Program, error) {
	p := DefaultProgram()
	if programID != "" {
		id, err := crypto.DecodePublicKey(programID)
		if err != nil {
			return Program{}, err
		}
		p.ID = id
	}
	if penalty != "" {
		addr, err := crypto.DecodePublicKey(penalty)
		if err != nil {
			return Program{}, err
		}
		p.PenaltyAddress = addr
	}
	return p, nil
}
