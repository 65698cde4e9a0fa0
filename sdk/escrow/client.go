package escrow

import (
	"context"
	"errors"

	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	native "stakeshack/native/escrow"
)

// Client binds the instruction builder to a submitter for one program
// deployment. Methods that take private keys sign and submit; Prepare methods
// return unsigned transactions for an external wallet.
type Client struct {
	program   native.Program
	submitter *ledger.Submitter
	reader    *Reader
}

func NewClient(program native.Program, submitter *ledger.Submitter, reader *Reader) *Client {
	return &Client{program: program, submitter: submitter, reader: reader}
}

func (c *Client) Program() native.Program {
	return c.program
}

func (c *Client) Reader() *Reader {
	return c.reader
}

var errNilKey = errors.New("escrow client: signing key required")

// Initialize creates the escrow account with owner as both lessor and payer.
func (c *Client) Initialize(ctx context.Context, apartmentID string, owner *crypto.PrivateKey) (string, error) {
	if owner == nil {
		return "", errNilKey
	}
	op, err := c.program.BuildInitialize(apartmentID, owner.PubKey(), owner.PubKey())
	if err != nil {
		return "", err
	}
	return c.submitter.Submit(ctx, op, owner)
}

func (c *Client) Stake(ctx context.Context, apartmentID, profileID string, amount uint64, staker *crypto.PrivateKey) (string, error) {
	if staker == nil {
		return "", errNilKey
	}
	op, err := c.program.BuildStake(apartmentID, profileID, amount, staker.PubKey())
	if err != nil {
		return "", err
	}
	return c.submitter.Submit(ctx, op, staker)
}

func (c *Client) Resolve(ctx context.Context, apartmentID, profileID string, owner *crypto.PrivateKey, staker crypto.PublicKey, referrer *crypto.PublicKey, reward uint64) (string, error) {
	if owner == nil {
		return "", errNilKey
	}
	op, err := c.program.BuildResolve(apartmentID, profileID, owner.PubKey(), staker, referrer, reward)
	if err != nil {
		return "", err
	}
	return c.submitter.Submit(ctx, op, owner)
}

func (c *Client) Slash(ctx context.Context, apartmentID, profileID string, owner *crypto.PrivateKey, staker crypto.PublicKey) (string, error) {
	if owner == nil {
		return "", errNilKey
	}
	op, err := c.program.BuildSlash(apartmentID, profileID, owner.PubKey(), staker)
	if err != nil {
		return "", err
	}
	return c.submitter.Submit(ctx, op, owner)
}

func (c *Client) PrepareInitialize(ctx context.Context, apartmentID string, owner crypto.PublicKey) (*types.Transaction, *ledger.LatestBlockhash, error) {
	op, err := c.program.BuildInitialize(apartmentID, owner, owner)
	if err != nil {
		return nil, nil, err
	}
	return c.submitter.Prepare(ctx, op, owner)
}

func (c *Client) PrepareStake(ctx context.Context, apartmentID, profileID string, amount uint64, staker crypto.PublicKey) (*types.Transaction, *ledger.LatestBlockhash, error) {
	op, err := c.program.BuildStake(apartmentID, profileID, amount, staker)
	if err != nil {
		return nil, nil, err
	}
	return c.submitter.Prepare(ctx, op, staker)
}

func (c *Client) PrepareResolve(ctx context.Context, apartmentID, profileID string, owner, staker crypto.PublicKey, referrer *crypto.PublicKey, reward uint64) (*types.Transaction, *ledger.LatestBlockhash, error) {
	op, err := c.program.BuildResolve(apartmentID, profileID, owner, staker, referrer, reward)
	if err != nil {
		return nil, nil, err
	}
	return c.submitter.Prepare(ctx, op, owner)
}

func (c *Client) PrepareSlash(ctx context.Context, apartmentID, profileID string, owner, staker crypto.PublicKey) (*types.Transaction, *ledger.LatestBlockhash, error) {
	op, err := c.program.BuildSlash(apartmentID, profileID, owner, staker)
	if err != nil {
		return nil, nil, err
	}
	return c.submitter.Prepare(ctx, op, owner)
}
