package reconcile

import (
	"context"
	"errors"
	"fmt"

	coreerrors "stakeshack/core/errors"
	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
	"stakeshack/observability"
)

var (
	// ErrSignerMismatch is returned when the signing key is not the session's
	// connected wallet.
	ErrSignerMismatch = errors.New("reconcile: signer does not match connected wallet")
	// ErrInvalidAmount is returned for a stake with no amount and no listed rent.
	ErrInvalidAmount = errors.New("reconcile: stake amount must be positive")
)

// ActionRequest asks for one transition. ProfileID is the targeted tenant for
// resolve and slash. For stake it must be empty or the session profile. Amount
// applies to stake only; zero means the listing's rent.
type ActionRequest struct {
	ApartmentID string
	Action      Action
	ProfileID   string
	Amount      uint64
	Signer      *crypto.PrivateKey
}

// Result is returned after a confirmed submission. View is re-read after
// confirmation; it is nil if that read failed.
type Result struct {
	TxID string
	View *View
}

// Prepared is an unsigned transaction for an external wallet.
type Prepared struct {
	Action      Action
	Transaction *types.Transaction
	Blockhash   *ledger.LatestBlockhash
}

func (req ActionRequest) target(session Session) string {
	if req.Action == ActionStake && req.ProfileID == "" {
		return session.ProfileID
	}
	return req.ProfileID
}

func (req ActionRequest) inflightKey(session Session) string {
	return req.ApartmentID + "|" + string(req.Action) + "|" + req.target(session)
}

// Execute re-checks that the action is offered against fresh state, submits
// it and re-reads the view. A second Execute for the same apartment, action
// and target while the first is pending fails with ErrSubmissionInFlight.
func (r *Reconciler) Execute(ctx context.Context, session Session, req ActionRequest) (*Result, error) {
	if req.Signer == nil || !session.Connected() || req.Signer.PubKey() != *session.Wallet {
		return nil, ErrSignerMismatch
	}
	key := req.inflightKey(session)
	if !r.acquire(key) {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrSubmissionInFlight, key)
	}
	defer r.release(key)

	op, _, err := r.guard(ctx, session, req)
	if err != nil {
		return nil, err
	}
	txID, err := r.executor.Submit(ctx, op, req.Signer)
	if err != nil {
		r.logger.Warn("escrow action rejected",
			"apartment", req.ApartmentID,
			"action", string(req.Action),
			"error", err)
		return nil, err
	}
	event := native.NewConfirmedEvent(op, req.ApartmentID, req.target(session), txID)
	observability.Events().RecordEscrowEvent(event.Type)
	r.logger.Info("escrow action confirmed",
		"apartment", req.ApartmentID,
		"action", string(req.Action),
		"event", event.Type,
		"signature", txID)
	if r.sink != nil {
		r.sink(event)
	}

	after, err := r.Load(ctx, session, req.ApartmentID)
	if err != nil {
		return &Result{TxID: txID}, fmt.Errorf("reload after %s: %w", req.Action, err)
	}
	return &Result{TxID: txID, View: after}, nil
}

// Prepare runs the same guard as Execute but returns an unsigned transaction
// with the session wallet as fee payer.
func (r *Reconciler) Prepare(ctx context.Context, session Session, req ActionRequest) (*Prepared, error) {
	op, _, err := r.guard(ctx, session, req)
	if err != nil {
		return nil, err
	}
	tx, latest, err := r.executor.Prepare(ctx, op, *session.Wallet)
	if err != nil {
		return nil, err
	}
	return &Prepared{Action: req.Action, Transaction: tx, Blockhash: latest}, nil
}

func (r *Reconciler) guard(ctx context.Context, session Session, req ActionRequest) (*native.Operation, *View, error) {
	view, err := r.Load(ctx, session, req.ApartmentID)
	if err != nil {
		return nil, nil, err
	}
	target := req.target(session)
	if req.Action == ActionStake && target != session.ProfileID {
		return nil, view, fmt.Errorf("%w: stake for %s from session %s", coreerrors.ErrActionNotAllowed, target, session.ProfileID)
	}
	if !view.Offers(req.Action, target) {
		return nil, view, fmt.Errorf("%w: %s %s in phase %s", coreerrors.ErrActionNotAllowed, req.Action, target, view.Phase)
	}
	op, err := r.build(ctx, view, session, req, target)
	if err != nil {
		return nil, view, err
	}
	return op, view, nil
}

func (r *Reconciler) build(ctx context.Context, view *View, session Session, req ActionRequest, target string) (*native.Operation, error) {
	program := r.reader.Program()
	wallet := *session.Wallet
	switch req.Action {
	case ActionInitialize:
		return program.BuildInitialize(view.ApartmentID, wallet, wallet)
	case ActionStake:
		amount := req.Amount
		if amount == 0 && view.apartment != nil {
			amount = view.apartment.RentLamports
		}
		if amount == 0 {
			return nil, ErrInvalidAmount
		}
		return program.BuildStake(view.ApartmentID, target, amount, wallet)
	case ActionResolve:
		stake, ok := view.Stake(target)
		if !ok {
			return nil, fmt.Errorf("%w: no stake record for %s", coreerrors.ErrActionNotAllowed, target)
		}
		referrer, err := r.referrerWallet(ctx, view.ApartmentID, target)
		if err != nil {
			return nil, err
		}
		reward := view.RewardAmount
		if referrer == nil {
			// The owner fills the referrer slot and nothing is paid out.
			reward = 0
		}
		return program.BuildResolve(view.ApartmentID, target, wallet, stake.Staker, referrer, reward)
	case ActionSlash:
		stake, ok := view.Stake(target)
		if !ok {
			return nil, fmt.Errorf("%w: no stake record for %s", coreerrors.ErrActionNotAllowed, target)
		}
		return program.BuildSlash(view.ApartmentID, target, wallet, stake.Staker)
	default:
		return nil, fmt.Errorf("%w: %q", coreerrors.ErrActionNotAllowed, req.Action)
	}
}

func (r *Reconciler) referrerWallet(ctx context.Context, apartmentID, profileID string) (*crypto.PublicKey, error) {
	profile, err := r.directory.ReferrerFor(ctx, apartmentID, profileID)
	if err != nil {
		return nil, err
	}
	wallet, err := profile.Wallet()
	if err != nil {
		r.logger.Warn("referrer has unusable wallet", "apartment", apartmentID, "profile", profileID, "error", err)
		return nil, nil
	}
	return wallet, nil
}

func (r *Reconciler) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Reconciler) release(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}
