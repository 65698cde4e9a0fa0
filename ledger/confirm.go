package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stakeshack/observability"
)

// Confirmer blocks until a sent transaction reaches the target commitment,
// fails on chain, or can no longer land. lastValidBlockHeight may be zero when
// the blockhash window is unknown; the caller's context then bounds the wait.
type Confirmer interface {
	Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) error
}

// FuncConfirmer adapts a callback to the Confirmer interface.
type FuncConfirmer func(ctx context.Context, signature string, lastValidBlockHeight uint64) error

func (f FuncConfirmer) Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	if f == nil {
		return nil
	}
	return f(ctx, signature, lastValidBlockHeight)
}

// PollingConfirmer polls getSignatureStatuses.
type PollingConfirmer struct {
	rpc        RPC
	interval   time.Duration
	commitment Commitment
	metrics    *observability.EscrowClientMetrics
}

// NewPollingConfirmer polls every interval (500ms when non-positive) until
// commitment is reached.
func NewPollingConfirmer(rpc RPC, commitment Commitment, interval time.Duration) *PollingConfirmer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return &PollingConfirmer{rpc: rpc, interval: interval, commitment: commitment, metrics: observability.EscrowClient()}
}

func (p *PollingConfirmer) Confirm(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	started := time.Now()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		done, err := p.check(ctx, signature, lastValidBlockHeight)
		if done {
			if err == nil {
				p.metrics.ObserveConfirmation("polling", time.Since(started))
			}
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// check returns done=true once the outcome is known. Transient RPC errors are
// swallowed so the next tick can retry the read.
func (p *PollingConfirmer) check(ctx context.Context, signature string, lastValidBlockHeight uint64) (bool, error) {
	statuses, err := p.rpc.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		if ctx.Err() != nil {
			return true, fmt.Errorf("%w: %w", ErrConfirmationTimeout, ctx.Err())
		}
		return false, nil
	}
	if len(statuses) > 0 && statuses[0] != nil {
		status := statuses[0]
		if status.Failed() {
			return true, &onChainError{raw: string(status.Err)}
		}
		if p.commitment.Reached(status.ConfirmationStatus) {
			return true, nil
		}
		return false, nil
	}
	if lastValidBlockHeight == 0 {
		return false, nil
	}
	height, err := p.rpc.GetBlockHeight(ctx)
	if err != nil {
		return false, nil
	}
	if height > lastValidBlockHeight {
		return true, ErrBlockhashExpired
	}
	return false, nil
}

// onChainError carries the ledger's execution error object verbatim.
type onChainError struct {
	raw string
}

func (e *onChainError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTransactionFailed.Error(), e.raw)
}

func (e *onChainError) Unwrap() error {
	return ErrTransactionFailed
}

// IsOnChainFailure reports whether err came from a transaction that landed
// but failed during execution.
func IsOnChainFailure(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
