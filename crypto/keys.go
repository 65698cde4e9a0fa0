package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// PublicKeyLength is the size of an Ed25519 public key and of every ledger address.
const PublicKeyLength = 32

// PublicKey is a 32-byte ledger address. It may be an Ed25519 point (a wallet)
// or an off-curve program-derived address.
type PublicKey [PublicKeyLength]byte

// NewPublicKey copies b into a PublicKey. It panics when b has the wrong length.
func NewPublicKey(b []byte) PublicKey {
	if len(b) != PublicKeyLength {
		panic("public key must be 32 bytes long")
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk
}

// MustPublicKey decodes a base58 address and panics on failure. Intended for
// package-level constants.
func MustPublicKey(s string) PublicKey {
	pk, err := DecodePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// DecodePublicKey parses the base58 text form of an address.
func DecodePublicKey(s string) (PublicKey, error) {
	if s == "" {
		return PublicKey{}, errors.New("crypto: empty public key")
	}
	decoded := base58.Decode(s)
	if len(decoded) != PublicKeyLength {
		return PublicKey{}, fmt.Errorf("crypto: invalid public key %q: decoded %d bytes", s, len(decoded))
	}
	return NewPublicKey(decoded), nil
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

// IsZero reports whether every byte of the key is zero.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Equal reports whether two keys are byte-identical.
func (pk PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(pk[:], other[:])
}

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(text []byte) error {
	decoded, err := DecodePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = decoded
	return nil
}

// Verify checks an Ed25519 signature made by the holder of pk.
func (pk PublicKey) Verify(message, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig)
}

// --- Key Management ---

type PrivateKey struct {
	ed25519.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromSeed expands a 32-byte Ed25519 seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &PrivateKey{ed25519.NewKeyFromSeed(seed)}, nil
}

// PrivateKeyFromBytes accepts the 64-byte seed||public form used by Solana
// keypair files and checks that both halves agree.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	key := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(key[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
		return nil, errors.New("crypto: keypair public half does not match seed")
	}
	return &PrivateKey{key}, nil
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return k.PrivateKey.Seed()
}

// Bytes returns the 64-byte seed||public encoding.
func (k *PrivateKey) Bytes() []byte {
	out := make([]byte, len(k.PrivateKey))
	copy(out, k.PrivateKey)
	return out
}

func (k *PrivateKey) PubKey() PublicKey {
	return NewPublicKey(k.PrivateKey.Public().(ed25519.PublicKey))
}

// SignMessage returns the 64-byte Ed25519 signature over message.
func (k *PrivateKey) SignMessage(message []byte) []byte {
	return ed25519.Sign(k.PrivateKey, message)
}

// MarshalKeypairJSON renders the key as a Solana CLI keypair file (a JSON
// array of 64 byte values).
func (k *PrivateKey) MarshalKeypairJSON() ([]byte, error) {
	raw := k.Bytes()
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// ParseKeypairJSON reads a Solana CLI keypair file.
func ParseKeypairJSON(data []byte) (*PrivateKey, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("crypto: parse keypair: %w", err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("crypto: keypair byte %d out of range", i)
		}
		raw[i] = byte(v)
	}
	return PrivateKeyFromBytes(raw)
}
