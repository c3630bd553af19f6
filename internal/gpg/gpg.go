// Package gpg verifies detached OpenPGP signatures published next to vendor
// installers.
package gpg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

const maxKeyFileSize = 1 << 20

var (
	ErrEmptyKeyRing     = errors.New("no keys in keyring")
	ErrNoKeysFound      = errors.New("no .asc keys found")
	ErrRevokedKey       = errors.New("key is revoked")
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// KeyRing holds the publisher keys trusted for installer signatures.
type KeyRing struct {
	ring         *crypto.KeyRing
	fingerprints []string
}

// NewKeyRing returns an empty keyring.
func NewKeyRing() *KeyRing {
	return &KeyRing{}
}

// AddArmored parses an ASCII-armored public key and adds it to the ring.
func (k *KeyRing) AddArmored(armored string) error {
	if strings.TrimSpace(armored) == "" {
		return fmt.Errorf("armored data cannot be empty")
	}

	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return fmt.Errorf("failed to parse PGP key: %w", err)
	}
	if key.IsRevoked() {
		return fmt.Errorf("%w: %s", ErrRevokedKey, key.GetFingerprint())
	}

	if k.ring == nil {
		ring, err := crypto.NewKeyRing(key)
		if err != nil {
			return fmt.Errorf("failed to create keyring: %w", err)
		}
		k.ring = ring
	} else if err := k.ring.AddKey(key); err != nil {
		return fmt.Errorf("failed to add key to keyring: %w", err)
	}

	k.fingerprints = append(k.fingerprints, key.GetFingerprint())
	return nil
}

// Fingerprints lists the fingerprints of every key in the ring.
func (k *KeyRing) Fingerprints() []string {
	return append([]string(nil), k.fingerprints...)
}

// Len returns the number of keys in the ring.
func (k *KeyRing) Len() int {
	return len(k.fingerprints)
}

// VerifyDetachedFile checks sigPath against the contents of dataPath. The
// signature may be armored or binary. The data file is streamed so large
// installers are not held in memory.
func (k *KeyRing) VerifyDetachedFile(dataPath, sigPath string) error {
	if k.ring == nil {
		return ErrEmptyKeyRing
	}

	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to read signature file: %w", err)
	}

	sig, err := crypto.NewPGPSignatureFromArmored(string(sigData))
	if err != nil {
		sig = crypto.NewPGPSignature(sigData)
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	if err := k.ring.VerifyDetachedStream(f, sig, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSignatureInvalid, filepath.Base(dataPath), err)
	}
	return nil
}

// LoadKeyRing reads trusted keys from path, which is either a single armored
// key file or a directory of .asc files.
func LoadKeyRing(path string) (*KeyRing, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access keys path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read keys directory: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".asc" {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
	}

	ring := NewKeyRing()
	for _, file := range files {
		data, err := readKeyFile(file)
		if err != nil {
			return nil, err
		}
		if err := ring.AddArmored(string(data)); err != nil {
			return nil, fmt.Errorf("invalid key in file '%s': %w", filepath.Base(file), err)
		}
	}

	if ring.Len() == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoKeysFound, path)
	}
	return ring, nil
}

// LoadKeyRingFromStrings builds a keyring from ASCII-armored key strings.
func LoadKeyRingFromStrings(armoredKeys []string) (*KeyRing, error) {
	if len(armoredKeys) == 0 {
		return nil, ErrNoKeysFound
	}

	ring := NewKeyRing()
	for i, armored := range armoredKeys {
		if err := ring.AddArmored(armored); err != nil {
			return nil, fmt.Errorf("invalid key at index %d: %w", i, err)
		}
	}
	return ring, nil
}

func readKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access key file: %w", err)
	}
	if info.Size() > maxKeyFileSize {
		return nil, fmt.Errorf("key file %s exceeds maximum allowed size of %d bytes", filepath.Base(path), maxKeyFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return data, nil
}
