package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

const keystoreVersion = 3

// keystoreFile is a Web3 v3 envelope. The encrypted payload is the 32-byte
// Ed25519 seed rather than a secp256k1 scalar, and the address is base58.
type keystoreFile struct {
	Address string              `json:"address"`
	Crypto  keystore.CryptoJSON `json:"crypto"`
	ID      string              `json:"id"`
	Version int                 `json:"version"`
	Curve   string              `json:"curve"`
}

// SaveToKeystore writes the provided private key to an encrypted keystore file at the given path.
// If the parent directory does not exist it will be created with 0700 permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return saveKeystore(path, key, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

func saveKeystore(path string, key *PrivateKey, passphrase string, scryptN, scryptP int) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	cryptoJSON, err := keystore.EncryptDataV3(key.Seed(), []byte(passphrase), scryptN, scryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt keystore: %w", err)
	}
	payload, err := json.MarshalIndent(keystoreFile{
		Address: key.PubKey().String(),
		Crypto:  cryptoJSON,
		ID:      uuid.NewString(),
		Version: keystoreVersion,
		Curve:   "ed25519",
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts a keystore file using the supplied passphrase.
// Unencrypted Solana CLI keypair files (a JSON byte array) are accepted as
// well; the passphrase is ignored for those.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return ParseKeypairJSON(trimmed)
	}

	var file keystoreFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if file.Version != keystoreVersion {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d", file.Version)
	}
	seed, err := keystore.DecryptDataV3(file.Crypto, passphrase)
	if err != nil {
		return nil, err
	}
	key, err := PrivateKeyFromSeed(seed)
	if err != nil {
		return nil, err
	}
	if file.Address != "" && file.Address != key.PubKey().String() {
		return nil, fmt.Errorf("crypto: keystore address %s does not match decrypted key", file.Address)
	}
	return key, nil
}

// IsEncryptedKeystore reports whether the file at path is an encrypted
// envelope and therefore needs a passphrase.
func IsEncryptedKeystore(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{', nil
}
