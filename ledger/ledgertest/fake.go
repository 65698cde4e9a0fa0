// Package ledgertest provides an in-memory ledger that executes the escrow
// program's instructions, for tests that need realistic chain behaviour
// without a validator.
package ledgertest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	coreerrors "stakeshack/core/errors"
	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	"stakeshack/native/escrow"
)

// blockhashWindow mirrors the ledger's ~150 block validity window.
const blockhashWindow = 150

// Ledger is a goroutine-safe fake implementing ledger.RPC.
type Ledger struct {
	mu         sync.Mutex
	program    escrow.Program
	accounts   map[crypto.PublicKey]*ledger.AccountInfo
	statuses   map[string]*ledger.SignatureStatus
	hashes     map[types.Blockhash]uint64
	blockhash  types.Blockhash
	height     uint64
	sends      int
	rejectNext *ledger.RPCError
	calls      map[string]int
}

var _ ledger.RPC = (*Ledger)(nil)

// New returns an empty ledger hosting program.
func New(program escrow.Program) *Ledger {
	l := &Ledger{
		program:  program,
		accounts: make(map[crypto.PublicKey]*ledger.AccountInfo),
		statuses: make(map[string]*ledger.SignatureStatus),
		hashes:   make(map[types.Blockhash]uint64),
		calls:    make(map[string]int),
		height:   1,
	}
	l.rotateLocked()
	return l
}

func (l *Ledger) rotateLocked() {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.height)
	l.blockhash = types.Blockhash(sha256.Sum256(seed[:]))
	l.hashes[l.blockhash] = l.height + blockhashWindow
}

// Advance moves the chain forward n blocks, issuing a fresh blockhash.
func (l *Ledger) Advance(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height += n
	l.rotateLocked()
}

// Fund credits lamports to key.
func (l *Ledger) Fund(key crypto.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.walletLocked(key).Lamports += lamports
}

// SetAccount installs raw account data owned by owner at key.
func (l *Ledger) SetAccount(key, owner crypto.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[key] = &ledger.AccountInfo{Owner: owner, Data: append([]byte(nil), data...)}
}

// RejectNextSend makes the next SendTransaction fail with err.
func (l *Ledger) RejectNextSend(err *ledger.RPCError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = err
}

func (l *Ledger) currentHeight() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// SendCount reports how many transactions were sent, accepted or not.
func (l *Ledger) SendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

// Calls reports how many times method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) walletLocked(key crypto.PublicKey) *ledger.AccountInfo {
	acct, ok := l.accounts[key]
	if !ok {
		acct = &ledger.AccountInfo{Owner: escrow.SystemProgramID}
		l.accounts[key] = acct
	}
	return acct
}

func cloneAccount(info *ledger.AccountInfo) *ledger.AccountInfo {
	clone := *info
	clone.Data = append([]byte(nil), info.Data...)
	return &clone
}

func (l *Ledger) GetAccountInfo(_ context.Context, key crypto.PublicKey) (*ledger.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getAccountInfo"]++
	acct, ok := l.accounts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, key)
	}
	return cloneAccount(acct), nil
}

func (l *Ledger) GetMultipleAccounts(_ context.Context, keys []crypto.PublicKey) ([]*ledger.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getMultipleAccounts"]++
	out := make([]*ledger.AccountInfo, len(keys))
	for i, key := range keys {
		if acct, ok := l.accounts[key]; ok {
			out[i] = cloneAccount(acct)
		}
	}
	return out, nil
}

func (l *Ledger) GetProgramAccounts(_ context.Context, program crypto.PublicKey, filters ...ledger.MemcmpFilter) ([]ledger.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getProgramAccounts"]++
	var out []ledger.KeyedAccount
	for key, acct := range l.accounts {
		if acct.Owner != program || !matches(acct.Data, filters) {
			continue
		}
		out = append(out, ledger.KeyedAccount{Pubkey: key, Account: *cloneAccount(acct)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Pubkey[:], out[j].Pubkey[:]) < 0
	})
	return out, nil
}

func matches(data []byte, filters []ledger.MemcmpFilter) bool {
	for _, f := range filters {
		end := f.Offset + len(f.Bytes)
		if f.Offset < 0 || end > len(data) || !bytes.Equal(data[f.Offset:end], f.Bytes) {
			return false
		}
	}
	return true
}

func (l *Ledger) GetLatestBlockhash(context.Context) (*ledger.LatestBlockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getLatestBlockhash"]++
	return &ledger.LatestBlockhash{Blockhash: l.blockhash, LastValidBlockHeight: l.hashes[l.blockhash]}, nil
}

func (l *Ledger) GetBlockHeight(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getBlockHeight"]++
	return l.height, nil
}

func (l *Ledger) GetSignatureStatuses(_ context.Context, signatures []string) ([]*ledger.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getSignatureStatuses"]++
	out := make([]*ledger.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if status, ok := l.statuses[sig]; ok {
			clone := *status
			out[i] = &clone
		}
	}
	return out, nil
}

func (l *Ledger) GetBalance(_ context.Context, key crypto.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["getBalance"]++
	if acct, ok := l.accounts[key]; ok {
		return acct.Lamports, nil
	}
	return 0, nil
}

// SendTransaction verifies and executes the transaction atomically. Failures
// are returned the way a node reports preflight rejections.
func (l *Ledger) SendTransaction(_ context.Context, raw []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["sendTransaction"]++
	l.sends++
	if l.rejectNext != nil {
		err := l.rejectNext
		l.rejectNext = nil
		return "", err
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", &ledger.RPCError{Method: "sendTransaction", Code: -32602, Message: "failed to deserialize transaction: " + err.Error()}
	}
	if err := tx.VerifySignatures(); err != nil {
		return "", &ledger.RPCError{Method: "sendTransaction", Code: -32003, Message: "Transaction signature verification failure"}
	}
	if lastValid, ok := l.hashes[tx.Message.RecentBlockhash]; !ok || l.height > lastValid {
		return "", simulationFailure("Blockhash not found", nil)
	}
	if _, seen := l.statuses[tx.Signature()]; seen {
		return "", simulationFailure("This transaction has already been processed", nil)
	}
	instructions, err := tx.Message.Decompile()
	if err != nil {
		return "", simulationFailure(err.Error(), nil)
	}

	// Execute against a scratch copy so a failing instruction leaves no trace.
	scratch := make(map[crypto.PublicKey]*ledger.AccountInfo, len(l.accounts))
	for key, acct := range l.accounts {
		scratch[key] = cloneAccount(acct)
	}
	exec := &executor{program: l.program, accounts: scratch}
	for _, ix := range instructions {
		if ix.ProgramID != l.program.ID {
			return "", simulationFailure("unsupported program "+ix.ProgramID.String(), nil)
		}
		if err := exec.run(ix); err != nil {
			return "", err
		}
	}
	l.accounts = scratch
	l.statuses[tx.Signature()] = &ledger.SignatureStatus{Slot: l.height, ConfirmationStatus: string(ledger.CommitmentFinalized)}
	l.height++
	l.rotateLocked()
	return tx.Signature(), nil
}

func simulationFailure(reason string, logs []string) *ledger.RPCError {
	return &ledger.RPCError{
		Method:  "sendTransaction",
		Code:    -32002,
		Message: "Transaction simulation failed: " + reason,
		Logs:    logs,
	}
}
