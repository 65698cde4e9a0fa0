package escrow

import (
	"bytes"
	"fmt"

	"stakeshack/crypto"
)

// EscrowAccount is the per-apartment record tracking total staked funds and
// the lessor that initialized it.
type EscrowAccount struct {
	ApartmentID string
	Lessor      crypto.PublicKey
	TotalStaked uint64
	IsActive    bool
	Bump        uint8
}

// StakeRecord is one tenant's deposit against one apartment. IsActive flips to
// false once the owner resolves or slashes it.
type StakeRecord struct {
	TenantProfileID string
	ApartmentID     string
	Staker          crypto.PublicKey
	Amount          uint64
	IsActive        bool
	Bump            uint8
}

// Clone returns a copy the caller may mutate freely.
func (e *EscrowAccount) Clone() *EscrowAccount {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

func (s *StakeRecord) Clone() *StakeRecord {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// MarshalBinary produces the account bytes including the discriminator.
func (e *EscrowAccount) MarshalBinary() ([]byte, error) {
	enc := newEncoder(EscrowAccountDiscriminator)
	if err := enc.writeString(e.ApartmentID); err != nil {
		return nil, err
	}
	enc.writeKey(e.Lessor)
	enc.writeU64(e.TotalStaked)
	enc.writeBool(e.IsActive)
	enc.writeU8(e.Bump)
	return enc.bytes(), nil
}

// UnmarshalBinary decodes account data. Trailing padding is ignored.
func (e *EscrowAccount) UnmarshalBinary(data []byte) error {
	dec, err := newDecoder("EscrowAccount", data, EscrowAccountDiscriminator)
	if err != nil {
		return err
	}
	var out EscrowAccount
	if out.ApartmentID, err = dec.readString(); err != nil {
		return err
	}
	if out.Lessor, err = dec.readKey(); err != nil {
		return err
	}
	if out.TotalStaked, err = dec.readU64(); err != nil {
		return err
	}
	if out.IsActive, err = dec.readBool(); err != nil {
		return err
	}
	if out.Bump, err = dec.readU8(); err != nil {
		return err
	}
	*e = out
	return nil
}

func (s *StakeRecord) MarshalBinary() ([]byte, error) {
	enc := newEncoder(StakeRecordDiscriminator)
	if err := enc.writeString(s.TenantProfileID); err != nil {
		return nil, err
	}
	if err := enc.writeString(s.ApartmentID); err != nil {
		return nil, err
	}
	enc.writeKey(s.Staker)
	enc.writeU64(s.Amount)
	enc.writeBool(s.IsActive)
	enc.writeU8(s.Bump)
	return enc.bytes(), nil
}

func (s *StakeRecord) UnmarshalBinary(data []byte) error {
	dec, err := newDecoder("StakeRecord", data, StakeRecordDiscriminator)
	if err != nil {
		return err
	}
	var out StakeRecord
	if out.TenantProfileID, err = dec.readString(); err != nil {
		return err
	}
	if out.ApartmentID, err = dec.readString(); err != nil {
		return err
	}
	if out.Staker, err = dec.readKey(); err != nil {
		return err
	}
	if out.Amount, err = dec.readU64(); err != nil {
		return err
	}
	if out.IsActive, err = dec.readBool(); err != nil {
		return err
	}
	if out.Bump, err = dec.readU8(); err != nil {
		return err
	}
	*s = out
	return nil
}

// AccountKind tags the variants of Account.
type AccountKind uint8

const (
	AccountEscrow AccountKind = iota + 1
	AccountStakeRecord
)

func (k AccountKind) String() string {
	switch k {
	case AccountEscrow:
		return "EscrowAccount"
	case AccountStakeRecord:
		return "StakeRecord"
	default:
		return fmt.Sprintf("AccountKind(%d)", uint8(k))
	}
}

// Account is a decoded program-owned account. Exactly one of Escrow or Stake
// is set, matching Kind.
type Account struct {
	Kind   AccountKind
	Escrow *EscrowAccount
	Stake  *StakeRecord
}

// DecodeAccount dispatches on the discriminator. Unrecognized discriminators
// fail with a DecodeError matching ErrUnknownDiscriminator instead of being
// guessed at.
func DecodeAccount(data []byte) (Account, error) {
	if len(data) < len(Discriminator{}) {
		return Account{}, &DecodeError{Layout: "account", Reason: fmt.Sprintf("%d bytes is shorter than a discriminator", len(data))}
	}
	switch {
	case bytes.HasPrefix(data, EscrowAccountDiscriminator[:]):
		var acct EscrowAccount
		if err := acct.UnmarshalBinary(data); err != nil {
			return Account{}, err
		}
		return Account{Kind: AccountEscrow, Escrow: &acct}, nil
	case bytes.HasPrefix(data, StakeRecordDiscriminator[:]):
		var rec StakeRecord
		if err := rec.UnmarshalBinary(data); err != nil {
			return Account{}, err
		}
		return Account{Kind: AccountStakeRecord, Stake: &rec}, nil
	default:
		return Account{}, unknownDiscriminator("account", data)
	}
}
