package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/observability"
)

// Operation is anything that compiles to a batch of instructions. The escrow
// builder's operations satisfy it.
type Operation interface {
	Name() string
	Instructions() []types.Instruction
}

// Submitter turns operations into signed transactions, broadcasts them and
// waits for confirmation. It never retries; a failed submission is returned
// to the caller as *SubmissionError.
type Submitter struct {
	rpc            RPC
	confirmer      Confirmer
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *observability.EscrowClientMetrics
}

// SubmitterOption customises a Submitter.
type SubmitterOption func(*Submitter)

func WithConfirmer(confirmer Confirmer) SubmitterOption {
	return func(s *Submitter) {
		if confirmer != nil {
			s.confirmer = confirmer
		}
	}
}

// WithConfirmTimeout bounds how long Submit waits after sending.
func WithConfirmTimeout(timeout time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if timeout > 0 {
			s.confirmTimeout = timeout
		}
	}
}

func WithSubmitterLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubmitter returns a submitter that polls for confirmation unless another
// confirmer is supplied.
func NewSubmitter(rpc RPC, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		rpc:            rpc,
		confirmTimeout: 90 * time.Second,
		logger:         slog.Default(),
		metrics:        observability.EscrowClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.confirmer == nil {
		s.confirmer = NewPollingConfirmer(rpc, CommitmentConfirmed, 0)
	}
	return s
}

// Prepare compiles op into an unsigned transaction with feePayer as the first
// signer. The returned blockhash bounds how long the transaction stays valid.
func (s *Submitter) Prepare(ctx context.Context, op Operation, feePayer crypto.PublicKey) (*types.Transaction, *LatestBlockhash, error) {
	latest, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, nil, submissionError(op.Name(), "", fmt.Errorf("fetch blockhash: %w", err))
	}
	msg, err := types.NewMessage(feePayer, op.Instructions(), latest.Blockhash)
	if err != nil {
		return nil, nil, submissionError(op.Name(), "", err)
	}
	return types.NewTransaction(msg), latest, nil
}

// Submit signs op with signers (the first pays fees), sends it and blocks
// until confirmation. The returned id is the base58 transaction signature.
func (s *Submitter) Submit(ctx context.Context, op Operation, signers ...*crypto.PrivateKey) (string, error) {
	if len(signers) == 0 || signers[0] == nil {
		return "", submissionError(op.Name(), "", ErrNoSigners)
	}
	tx, latest, err := s.Prepare(ctx, op, signers[0].PubKey())
	if err != nil {
		s.metrics.RecordSubmission(op.Name(), "rejected")
		return "", err
	}
	if err := tx.Sign(signers...); err != nil {
		s.metrics.RecordSubmission(op.Name(), "rejected")
		return "", submissionError(op.Name(), "", err)
	}
	return s.send(ctx, op.Name(), tx, latest.LastValidBlockHeight)
}

// SubmitSigned relays a transaction signed elsewhere, typically by a browser
// wallet, and waits for confirmation.
func (s *Submitter) SubmitSigned(ctx context.Context, raw []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", submissionError("relay", "", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		return "", submissionError("relay", tx.Signature(), err)
	}
	return s.send(ctx, "relay", &tx, 0)
}

func (s *Submitter) send(ctx context.Context, opName string, tx *types.Transaction, lastValid uint64) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", submissionError(opName, "", err)
	}
	if len(raw) > types.MaxTransactionSize {
		s.metrics.RecordSubmission(opName, "rejected")
		return "", submissionError(opName, tx.Signature(), fmt.Errorf("transaction is %d bytes, limit %d", len(raw), types.MaxTransactionSize))
	}

	signature, err := s.rpc.SendTransaction(ctx, raw)
	if err != nil {
		s.metrics.RecordSubmission(opName, "rejected")
		subErr := submissionError(opName, tx.Signature(), err)
		s.logger.Warn("transaction rejected", "operation", opName, "signature", subErr.Signature, "reason", subErr.Reason)
		return "", subErr
	}
	if signature == "" {
		signature = tx.Signature()
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.confirmer.Confirm(confirmCtx, signature, lastValid); err != nil {
		outcome := "failed"
		if errors.Is(err, ErrConfirmationTimeout) || errors.Is(err, ErrBlockhashExpired) {
			outcome = "timeout"
		}
		s.metrics.RecordSubmission(opName, outcome)
		subErr := submissionError(opName, signature, err)
		s.logger.Warn("transaction not confirmed", "operation", opName, "signature", signature, "reason", subErr.Reason)
		return "", subErr
	}
	s.metrics.RecordSubmission(opName, "confirmed")
	s.logger.Info("transaction confirmed", "operation", opName, "signature", signature)
	return signature, nil
}
