package escrow

import (
	"errors"
	"fmt"

	coreerrors "stakeshack/core/errors"
)

var (
	ErrIDTooLong            = errors.New("escrow: identifier exceeds 256 bytes")
	ErrEmptyID              = errors.New("escrow: identifier must not be empty")
	ErrUnknownDiscriminator = errors.New("escrow: unknown discriminator")
)

// DecodeError reports bytes that do not match the expected layout. It matches
// core/errors.ErrDecode under errors.Is, and Kind as well when set.
type DecodeError struct {
	Layout string
	Offset int
	Reason string
	Kind   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("escrow: decode %s at offset %d: %s", e.Layout, e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return coreerrors.ErrDecode
}

func (e *DecodeError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func unknownDiscriminator(layout string, data []byte) *DecodeError {
	return &DecodeError{
		Layout: layout,
		Reason: fmt.Sprintf("unknown discriminator %x", data[:len(Discriminator{})]),
		Kind:   ErrUnknownDiscriminator,
	}
}
