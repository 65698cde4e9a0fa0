package crypto

import "crypto/sha256"

// HashSeed maps an arbitrary-length identifier to a fixed 32-byte seed
// component. The same input always produces the same output.
func HashSeed(input string) [32]byte {
	return sha256.Sum256([]byte(input))
}
