package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	coreerrors "stakeshack/core/errors"
	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/observability"
	sdkescrow "stakeshack/sdk/escrow"
	"stakeshack/storage/marketplace"
)

// StateReader is the on-chain read side. *sdkescrow.Reader implements it.
type StateReader interface {
	Program() native.Program
	ReadEscrow(ctx context.Context, apartmentID string) (*native.EscrowAccount, error)
	ListStakeRecords(ctx context.Context, apartmentID string) ([]sdkescrow.StakeRecordEntry, error)
}

// Executor compiles and submits operations. *ledger.Submitter implements it.
type Executor interface {
	Prepare(ctx context.Context, op ledger.Operation, feePayer crypto.PublicKey) (*types.Transaction, *ledger.LatestBlockhash, error)
	Submit(ctx context.Context, op ledger.Operation, signers ...*crypto.PrivateKey) (string, error)
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEventSink receives an event for every transition Execute sees confirmed.
func WithEventSink(sink func(*types.Event)) Option {
	return func(r *Reconciler) {
		r.sink = sink
	}
}

// Reconciler joins the marketplace directory with on-chain escrow state and
// decides which actions a session may take.
type Reconciler struct {
	directory marketplace.Directory
	reader    StateReader
	executor  Executor
	logger    *slog.Logger
	metrics   *observability.EscrowClientMetrics
	sink      func(*types.Event)
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(directory marketplace.Directory, reader StateReader, executor Executor, opts ...Option) *Reconciler {
	r := &Reconciler{
		directory: directory,
		reader:    reader,
		executor:  executor,
		logger:    slog.Default(),
		metrics:   observability.EscrowClient(),
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Program returns the deployment the reconciler reads from.
func (r *Reconciler) Program() native.Program {
	return r.reader.Program()
}

// Load computes the apartment's phase and the actions offered to session.
// Nothing is read while the wallet is disconnected.
func (r *Reconciler) Load(ctx context.Context, session Session, apartmentID string) (*View, error) {
	view := &View{ApartmentID: apartmentID, Stakes: []StakeView{}, Actions: []OfferedAction{}, LoadedAt: r.now()}
	if !session.Connected() {
		return r.finish(view, PhaseNoWallet), nil
	}

	apt, err := r.directory.GetApartmentByID(ctx, apartmentID)
	if err != nil {
		return nil, err
	}
	if apt == nil {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrApartmentNotFound, apartmentID)
	}
	view.apartment = apt
	view.RewardAmount = apt.RewardAmount
	view.IsOwner = apt.IsOwner(session.ProfileID)
	view.IsApprovedTenant = apt.IsApprovedTenant(session.ProfileID)
	if !view.IsOwner && !view.IsApprovedTenant {
		return r.finish(view, PhaseNoAccess), nil
	}

	var (
		escrowAcct   *native.EscrowAccount
		owner        *marketplace.Profile
		tenant       *marketplace.Profile
		stakeEntries []sdkescrow.StakeRecordEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acct, err := r.reader.ReadEscrow(gctx, apartmentID)
		if errors.Is(err, coreerrors.ErrNotFound) {
			return nil
		}
		escrowAcct = acct
		return err
	})
	g.Go(func() error {
		p, err := r.directory.GetProfileByID(gctx, apt.OwnerID)
		owner = p
		return err
	})
	if apt.ApprovedProfileID != nil {
		g.Go(func() error {
			p, err := r.directory.GetProfileByID(gctx, *apt.ApprovedProfileID)
			tenant = p
			return err
		})
	}
	g.Go(func() error {
		entries, err := r.reader.ListStakeRecords(gctx, apartmentID)
		stakeEntries = entries
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", apartmentID, err)
	}

	view.Owner = profileView(owner)
	view.Tenant = profileView(tenant)
	for _, entry := range stakeEntries {
		view.Stakes = append(view.Stakes, StakeView{
			Address:         entry.Address,
			TenantProfileID: entry.Record.TenantProfileID,
			Staker:          entry.Record.Staker,
			Amount:          entry.Record.Amount,
			IsActive:        entry.Record.IsActive,
		})
	}

	if escrowAcct == nil {
		if view.IsOwner {
			view.Actions = append(view.Actions, OfferedAction{Action: ActionInitialize})
		}
		return r.finish(view, PhaseAwaitingInit), nil
	}

	escrowAddr, err := r.reader.Program().EscrowAddress(apartmentID)
	if err != nil {
		return nil, err
	}
	view.Escrow = &EscrowView{
		Address:     escrowAddr,
		Lessor:      escrowAcct.Lessor,
		TotalStaked: escrowAcct.TotalStaked,
		IsActive:    escrowAcct.IsActive,
		Bump:        escrowAcct.Bump,
	}
	if view.IsApprovedTenant {
		staked, err := r.hasStakeRecord(view, session.ProfileID)
		if err != nil {
			return nil, err
		}
		if !staked {
			view.Actions = append(view.Actions, OfferedAction{Action: ActionStake, ProfileID: session.ProfileID})
		}
	}
	if view.IsOwner {
		for _, stake := range view.Stakes {
			if !stake.IsActive {
				continue
			}
			view.Actions = append(view.Actions,
				OfferedAction{Action: ActionResolve, ProfileID: stake.TenantProfileID},
				OfferedAction{Action: ActionSlash, ProfileID: stake.TenantProfileID},
			)
		}
	}
	return r.finish(view, PhaseActiveDashboard), nil
}

// hasStakeRecord checks for a record at the tenant's derived address.
func (r *Reconciler) hasStakeRecord(view *View, profileID string) (bool, error) {
	addr, err := r.reader.Program().StakeAddress(view.ApartmentID, profileID)
	if err != nil {
		return false, err
	}
	for _, stake := range view.Stakes {
		if stake.Address == addr {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reconciler) finish(view *View, phase Phase) *View {
	view.Phase = phase
	r.metrics.RecordPhase(string(phase))
	r.logger.Debug("apartment reconciled",
		"apartment", view.ApartmentID,
		"phase", string(phase),
		"actions", len(view.Actions))
	return view
}
