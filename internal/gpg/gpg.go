// Package gpg verifies detached OpenPGP signatures over catalog documents.
package gpg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

const (
	maxKeyFileSize = 1024 * 1024 // public keys are small
	keyFileMode    = 0600        // Required file permissions for key files on Unix systems
)

// Sentinel errors for key loading and verification.
var (
	ErrNoKeys       = errors.New("no keys in keyring")
	ErrEmptyKey     = errors.New("armored data cannot be empty")
	ErrRevokedKey   = errors.New("key is revoked")
	ErrVerifyFailed = errors.New("signature verification failed")
)

// KeyRing represents a collection of PGP keys for signature verification
type KeyRing interface {
	VerifyDetached(message []byte, signature []byte) error
	AddKey(key *Key) error
	Len() int
}

// Key is a parsed PGP public key.
type Key struct {
	pgpKey      *crypto.Key
	fingerprint string
}

// NewKey parses an ASCII-armored public key.
func NewKey(armoredData string) (*Key, error) {
	if armoredData == "" {
		return nil, ErrEmptyKey
	}

	pgpKey, err := crypto.NewKeyFromArmored(armoredData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PGP key: %w", err)
	}

	return &Key{pgpKey: pgpKey, fingerprint: pgpKey.GetFingerprint()}, nil
}

// IsRevoked reports whether the key has been revoked.
func (k *Key) IsRevoked() bool {
	return k.pgpKey.IsRevoked()
}

// Fingerprint returns the hex fingerprint of the key.
func (k *Key) Fingerprint() string {
	return k.fingerprint
}

// RealKeyRing implements KeyRing using gopenpgp v2.
type RealKeyRing struct {
	keyRing *crypto.KeyRing
}

// NewRealKeyRing creates an empty RealKeyRing.
func NewRealKeyRing() *RealKeyRing {
	return &RealKeyRing{}
}

// VerifyDetached checks signature over message. The signature may be
// armored or binary.
func (rk *RealKeyRing) VerifyDetached(message []byte, signature []byte) error {
	if rk.keyRing == nil {
		return ErrNoKeys
	}

	plainMessage := crypto.NewPlainMessage(message)

	pgpSignature, err := crypto.NewPGPSignatureFromArmored(string(signature))
	if err != nil {
		// Try binary format if armored fails
		pgpSignature = crypto.NewPGPSignature(signature)
	}

	if err := rk.keyRing.VerifyDetached(plainMessage, pgpSignature, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return nil
}

// AddKey adds a public key to the ring.
func (rk *RealKeyRing) AddKey(key *Key) error {
	if key == nil {
		return fmt.Errorf("key cannot be nil")
	}

	if rk.keyRing == nil {
		ring, err := crypto.NewKeyRing(key.pgpKey)
		if err != nil {
			return fmt.Errorf("failed to create keyring: %w", err)
		}
		rk.keyRing = ring
		return nil
	}

	if err := rk.keyRing.AddKey(key.pgpKey); err != nil {
		return fmt.Errorf("failed to add key to keyring: %w", err)
	}
	return nil
}

// Len returns the number of keys in the ring.
func (rk *RealKeyRing) Len() int {
	if rk.keyRing == nil {
		return 0
	}
	return rk.keyRing.CountEntities()
}

// LoadKeyRingFromPath loads all ASCII-armored PGP public keys (*.asc)
// from the given directory.
func LoadKeyRingFromPath(keysPath string) (KeyRing, error) {
	files, err := os.ReadDir(keysPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	keyRing := NewRealKeyRing()
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".asc" {
			continue
		}

		filePath := filepath.Join(keysPath, file.Name())
		if err := validateKeyFile(filePath); err != nil {
			return nil, fmt.Errorf("invalid key file '%s': %w", file.Name(), err)
		}

		keyData, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}

		if err := addArmored(keyRing, string(keyData)); err != nil {
			return nil, fmt.Errorf("key file '%s': %w", file.Name(), err)
		}
	}

	if keyRing.Len() == 0 {
		return nil, fmt.Errorf("%w: no .asc keys found in %s", ErrNoKeys, keysPath)
	}
	return keyRing, nil
}

// LoadKeyRingFromStrings loads PGP public keys from ASCII-armored strings.
func LoadKeyRingFromStrings(armoredKeys []string) (KeyRing, error) {
	if len(armoredKeys) == 0 {
		return nil, fmt.Errorf("%w: no armored keys provided", ErrNoKeys)
	}

	keyRing := NewRealKeyRing()
	for i, armoredKey := range armoredKeys {
		if err := addArmored(keyRing, armoredKey); err != nil {
			return nil, fmt.Errorf("key at index %d: %w", i, err)
		}
	}
	return keyRing, nil
}

func addArmored(keyRing *RealKeyRing, armored string) error {
	key, err := NewKey(armored)
	if err != nil {
		return err
	}
	if key.IsRevoked() {
		return ErrRevokedKey
	}
	return keyRing.AddKey(key)
}

// validateKeyFile checks if a key file has appropriate permissions and size
func validateKeyFile(filePath string) error {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("failed to access key file: %w", err)
	}

	if fileInfo.Size() > maxKeyFileSize {
		return fmt.Errorf("key file exceeds maximum allowed size of %d bytes", maxKeyFileSize)
	}

	// Check file permissions (allow both 0600 and 0644 for compatibility)
	perm := fileInfo.Mode().Perm()
	if perm != keyFileMode && perm != 0644 {
		return fmt.Errorf("key file has incorrect permissions. Expected %o or 0644, got %o", keyFileMode, perm)
	}
	return nil
}
