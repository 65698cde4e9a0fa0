package errors

import stderrors "errors"

var (
	ErrNotFound           = stderrors.New("escrow: account not found")
	ErrDerivation         = stderrors.New("escrow: no viable bump seed")
	ErrDecode             = stderrors.New("escrow: malformed account data")
	ErrApartmentNotFound  = stderrors.New("marketplace: apartment not found")
	ErrActionNotAllowed   = stderrors.New("reconcile: action not offered")
	ErrSubmissionInFlight = stderrors.New("reconcile: submission already in flight")
)
