package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"stakeshack/core/types"
	"stakeshack/crypto"
)

// Commitment is the ledger's confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Reached reports whether status has progressed at least as far as c.
func (c Commitment) Reached(status string) bool {
	rank := func(s string) int {
		switch Commitment(s) {
		case CommitmentProcessed:
			return 1
		case CommitmentConfirmed:
			return 2
		case CommitmentFinalized:
			return 3
		default:
			return 0
		}
	}
	want := rank(string(c))
	if want == 0 {
		want = rank(string(CommitmentConfirmed))
	}
	return rank(status) >= want
}

// AccountInfo is a fetched account with its data decoded from base64.
type AccountInfo struct {
	Lamports   uint64
	Owner      crypto.PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// KeyedAccount pairs an account with its address, as returned by program
// scans.
type KeyedAccount struct {
	Pubkey  crypto.PublicKey
	Account AccountInfo
}

// LatestBlockhash is the blockhash a new transaction should commit to and the
// last block height at which it is still accepted.
type LatestBlockhash struct {
	Blockhash            types.Blockhash
	LastValidBlockHeight uint64
}

// SignatureStatus mirrors one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && len(s.Err) > 0 && string(s.Err) != "null"
}

// MemcmpFilter restricts program scans to accounts whose data matches Bytes
// at Offset.
type MemcmpFilter struct {
	Offset int
	Bytes  []byte
}

type rpcAccount struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
}

func (a *rpcAccount) decode() (*AccountInfo, error) {
	if a.Data[1] != "" && a.Data[1] != "base64" {
		return nil, fmt.Errorf("ledger: unexpected account encoding %q", a.Data[1])
	}
	data, err := base64.StdEncoding.DecodeString(a.Data[0])
	if err != nil {
		return nil, fmt.Errorf("ledger: decode account data: %w", err)
	}
	owner, err := crypto.DecodePublicKey(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode account owner: %w", err)
	}
	return &AccountInfo{
		Lamports:   a.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}, nil
}

// EncodeAccount renders info in the wire shape returned by the RPC. Test
// servers use it to fake responses.
func EncodeAccount(info *AccountInfo) any {
	if info == nil {
		return nil
	}
	return rpcAccount{
		Lamports:   info.Lamports,
		Owner:      info.Owner.String(),
		Data:       [2]string{base64.StdEncoding.EncodeToString(info.Data), "base64"},
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
	}
}

type rpcKeyedAccount struct {
	Pubkey  string     `json:"pubkey"`
	Account rpcAccount `json:"account"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type rpcAccountValue struct {
	Context rpcContext  `json:"context"`
	Value   *rpcAccount `json:"value"`
}

type rpcAccountsValue struct {
	Context rpcContext    `json:"context"`
	Value   []*rpcAccount `json:"value"`
}

type rpcBlockhashValue struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

type rpcStatusesValue struct {
	Context rpcContext         `json:"context"`
	Value   []*SignatureStatus `json:"value"`
}

type rpcBalanceValue struct {
	Context rpcContext `json:"context"`
	Value   uint64     `json:"value"`
}
