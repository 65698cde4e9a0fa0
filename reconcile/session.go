package reconcile

import "stakeshack/crypto"

// Session identifies who is looking at an apartment. Wallet is nil while no
// wallet is connected.
type Session struct {
	ProfileID string
	Wallet    *crypto.PublicKey
}

func (s Session) Connected() bool {
	return s.Wallet != nil
}
