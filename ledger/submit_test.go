package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeshack/crypto"
	"stakeshack/ledger"
	"stakeshack/ledger/ledgertest"
	"stakeshack/native/escrow"
)

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func fastSubmitter(rpc ledger.RPC) *ledger.Submitter {
	return ledger.NewSubmitter(rpc,
		ledger.WithConfirmer(ledger.NewPollingConfirmer(rpc, ledger.CommitmentConfirmed, 5*time.Millisecond)),
		ledger.WithConfirmTimeout(2*time.Second),
	)
}

func TestSubmitInitializeConfirms(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.Fund(owner.PubKey(), 10_000_000)

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	sig, err := fastSubmitter(fake).Submit(context.Background(), op, owner)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	statuses, err := fake.GetSignatureStatuses(context.Background(), []string{sig})
	require.NoError(t, err)
	require.NotNil(t, statuses[0])

	escrowAddr, err := program.EscrowAddress("apt-1")
	require.NoError(t, err)
	info, err := fake.GetAccountInfo(context.Background(), escrowAddr)
	require.NoError(t, err)
	var state escrow.EscrowAccount
	require.NoError(t, state.UnmarshalBinary(info.Data))
	require.Equal(t, owner.PubKey(), state.Lessor)
	require.True(t, state.IsActive)
}

func TestDuplicateInitializeRejected(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.Fund(owner.PubKey(), 10_000_000)
	submitter := fastSubmitter(fake)

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	_, err = submitter.Submit(context.Background(), op, owner)
	require.NoError(t, err)

	fake.Advance(1)
	before := fake.SendCount()
	_, err = submitter.Submit(context.Background(), op, owner)
	var subErr *ledger.SubmissionError
	require.True(t, errors.As(err, &subErr), "got %v", err)
	require.Equal(t, "initialize", subErr.Op)
	require.Contains(t, subErr.Reason, "custom program error")
	require.True(t, containsLine(subErr.Logs, "already in use"), "logs: %v", subErr.Logs)
	require.Equal(t, before+1, fake.SendCount(), "submission must not retry")
}

func containsLine(lines []string, needle string) bool {
	for _, line := range lines {
		if strings.Contains(line, needle) {
			return true
		}
	}
	return false
}

func TestSubmitSurfacesRawRejection(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.RejectNextSend(&ledger.RPCError{Code: -32002, Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit."})

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	_, err = fastSubmitter(fake).Submit(context.Background(), op, owner)
	var subErr *ledger.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Equal(t, "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.", subErr.Reason)
	require.Equal(t, 1, fake.SendCount())
}

func TestSubmitRequiresSigner(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	op, err := program.BuildInitialize("apt-1", program.ID, program.ID)
	require.NoError(t, err)
	_, err = fastSubmitter(fake).Submit(context.Background(), op)
	require.ErrorIs(t, err, ledger.ErrNoSigners)
	require.Zero(t, fake.SendCount())
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.Fund(owner.PubKey(), 10_000_000)
	never := ledger.FuncConfirmer(func(ctx context.Context, _ string, _ uint64) error {
		<-ctx.Done()
		return ledger.ErrConfirmationTimeout
	})
	submitter := ledger.NewSubmitter(fake, ledger.WithConfirmer(never), ledger.WithConfirmTimeout(20*time.Millisecond))

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	_, err = submitter.Submit(context.Background(), op, owner)
	var subErr *ledger.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.NotEmpty(t, subErr.Signature)
	require.ErrorIs(t, err, ledger.ErrConfirmationTimeout)
}

func TestPrepareAndSubmitSigned(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.Fund(owner.PubKey(), 10_000_000)
	submitter := fastSubmitter(fake)

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	tx, latest, err := submitter.Prepare(context.Background(), op, owner.PubKey())
	require.NoError(t, err)
	require.NotZero(t, latest.LastValidBlockHeight)
	require.Equal(t, owner.PubKey(), tx.Message.AccountKeys[0])

	// The wallet signs outside the process.
	require.NoError(t, tx.Sign(owner))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	sig, err := submitter.SubmitSigned(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, tx.Signature(), sig)
}

func TestSubmitSignedRejectsUnsigned(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	submitter := fastSubmitter(fake)

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	tx, _, err := submitter.Prepare(context.Background(), op, owner.PubKey())
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	_, err = submitter.SubmitSigned(context.Background(), raw)
	var subErr *ledger.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Zero(t, fake.SendCount())
}

func TestExpiredBlockhashRejected(t *testing.T) {
	program := escrow.DefaultProgram()
	fake := ledgertest.New(program)
	owner := newKey(t)
	fake.Fund(owner.PubKey(), 10_000_000)
	submitter := fastSubmitter(fake)

	op, err := program.BuildInitialize("apt-1", owner.PubKey(), owner.PubKey())
	require.NoError(t, err)
	tx, _, err := submitter.Prepare(context.Background(), op, owner.PubKey())
	require.NoError(t, err)
	require.NoError(t, tx.Sign(owner))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	fake.Advance(500)
	_, err = submitter.SubmitSigned(context.Background(), raw)
	var subErr *ledger.SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Contains(t, subErr.Reason, "Blockhash not found")
}
