package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	coreerrors "stakeshack/core/errors"
	"stakeshack/crypto"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/observability"
)

// AccountSource is the read side of the ledger RPC.
type AccountSource interface {
	GetAccountInfo(ctx context.Context, key crypto.PublicKey) (*ledger.AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, keys []crypto.PublicKey) ([]*ledger.AccountInfo, error)
	GetProgramAccounts(ctx context.Context, program crypto.PublicKey, filters ...ledger.MemcmpFilter) ([]ledger.KeyedAccount, error)
}

// StakeRecordEntry is a decoded stake record and the address it lives at.
type StakeRecordEntry struct {
	Address crypto.PublicKey
	Record  native.StakeRecord
}

// Snapshot is a point-in-time view of one apartment's escrow state. Escrow is
// nil when the account has not been initialized.
type Snapshot struct {
	ApartmentID string
	Escrow      *native.EscrowAccount
	Stakes      []StakeRecordEntry
	ReadAt      time.Time
}

// Reader fetches and decodes escrow program accounts. Every read is a fresh
// round trip; nothing is cached.
type Reader struct {
	source  AccountSource
	program native.Program
	logger  *slog.Logger
	metrics *observability.EscrowClientMetrics
	now     func() time.Time
}

func NewReader(source AccountSource, program native.Program, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		source:  source,
		program: program,
		logger:  logger,
		metrics: observability.EscrowClient(),
		now:     time.Now,
	}
}

// Program returns the deployment the reader is bound to.
func (r *Reader) Program() native.Program {
	return r.program
}

// fetch returns the account data at key, mapping absence and foreign
// ownership to ErrNotFound.
func (r *Reader) fetch(ctx context.Context, key crypto.PublicKey) ([]byte, error) {
	info, err := r.source.GetAccountInfo(ctx, key)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Owner != r.program.ID {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, key)
	}
	return info.Data, nil
}

// ReadEscrow returns the apartment's escrow account. Bytes that fail to decode
// are reported as ErrNotFound; the decode failure is logged and counted.
func (r *Reader) ReadEscrow(ctx context.Context, apartmentID string) (*native.EscrowAccount, error) {
	addr, err := r.program.EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, addr)
	if err != nil {
		return nil, err
	}
	var acct native.EscrowAccount
	if err := acct.UnmarshalBinary(data); err != nil {
		r.decodeFailed("EscrowAccount", addr, err)
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, addr)
	}
	return &acct, nil
}

// ReadStakeRecord returns one tenant's stake record with the same not-found
// policy as ReadEscrow.
func (r *Reader) ReadStakeRecord(ctx context.Context, apartmentID, profileID string) (*native.StakeRecord, error) {
	addr, err := r.program.StakeAddress(apartmentID, profileID)
	if err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, addr)
	if err != nil {
		return nil, err
	}
	var rec native.StakeRecord
	if err := rec.UnmarshalBinary(data); err != nil {
		r.decodeFailed("StakeRecord", addr, err)
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, addr)
	}
	return &rec, nil
}

// ReadStakeRecords fetches the stake records of several tenants in one round
// trip. Missing, foreign-owned and malformed accounts are left out; the rest
// keep the order of profileIDs.
func (r *Reader) ReadStakeRecords(ctx context.Context, apartmentID string, profileIDs ...string) ([]StakeRecordEntry, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	keys := make([]crypto.PublicKey, len(profileIDs))
	for i, profileID := range profileIDs {
		addr, err := r.program.StakeAddress(apartmentID, profileID)
		if err != nil {
			return nil, err
		}
		keys[i] = addr
	}
	infos, err := r.source.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}
	entries := make([]StakeRecordEntry, 0, len(keys))
	for i, info := range infos {
		if i >= len(keys) {
			break
		}
		if info == nil || info.Owner != r.program.ID {
			continue
		}
		var rec native.StakeRecord
		if err := rec.UnmarshalBinary(info.Data); err != nil {
			r.decodeFailed("StakeRecord", keys[i], err)
			continue
		}
		entries = append(entries, StakeRecordEntry{Address: keys[i], Record: rec})
	}
	return entries, nil
}

// ListStakeRecords scans every stake record owned by the program and keeps
// those for apartmentID, ordered by tenant profile id. The scan is linear in
// the number of program accounts.
func (r *Reader) ListStakeRecords(ctx context.Context, apartmentID string) ([]StakeRecordEntry, error) {
	accounts, err := r.source.GetProgramAccounts(ctx, r.program.ID, ledger.MemcmpFilter{
		Offset: 0,
		Bytes:  native.StakeRecordDiscriminator[:],
	})
	if err != nil {
		return nil, err
	}
	entries := make([]StakeRecordEntry, 0, len(accounts))
	for _, keyed := range accounts {
		decoded, err := native.DecodeAccount(keyed.Account.Data)
		if err != nil {
			if errors.Is(err, native.ErrUnknownDiscriminator) {
				r.metrics.RecordSkipped("unknown_discriminator")
				continue
			}
			r.decodeFailed("StakeRecord", keyed.Pubkey, err)
			r.metrics.RecordSkipped("decode_error")
			continue
		}
		switch decoded.Kind {
		case native.AccountStakeRecord:
			if decoded.Stake.ApartmentID != apartmentID {
				continue
			}
			entries = append(entries, StakeRecordEntry{Address: keyed.Pubkey, Record: *decoded.Stake})
		case native.AccountEscrow:
			r.metrics.RecordSkipped("unexpected_kind")
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Record.TenantProfileID < entries[j].Record.TenantProfileID
	})
	return entries, nil
}

// Snapshot reads the escrow account and its stake records.
func (r *Reader) Snapshot(ctx context.Context, apartmentID string) (*Snapshot, error) {
	snap := &Snapshot{ApartmentID: apartmentID, ReadAt: r.now()}
	acct, err := r.ReadEscrow(ctx, apartmentID)
	switch {
	case err == nil:
		snap.Escrow = acct
	case errors.Is(err, coreerrors.ErrNotFound):
	default:
		return nil, err
	}
	stakes, err := r.ListStakeRecords(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	snap.Stakes = stakes
	return snap, nil
}

func (r *Reader) decodeFailed(layout string, addr crypto.PublicKey, err error) {
	r.metrics.RecordDecodeError(layout)
	r.logger.Debug("escrow account failed to decode", "layout", layout, "address", addr.String(), "error", err)
}
