package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const kdfSalt = "agentreg-agent-kdf"

// KeyRing derives per-agent Ed25519 keys from one master seed using
// HKDF-SHA256. The same master and label always yield the same key, so an
// operator can run many agents from a single backed-up secret.
type KeyRing struct {
	master *Ed25519Signer
}

func NewKeyRing(master *Ed25519Signer) *KeyRing {
	return &KeyRing{master: master}
}

// Master returns the root signer.
func (k *KeyRing) Master() *Ed25519Signer {
	return k.master
}

// Derive returns the signer for label.
func (k *KeyRing) Derive(label string) (*Ed25519Signer, error) {
	if label == "" {
		return nil, fmt.Errorf("label must not be empty")
	}

	r := hkdf.New(sha256.New, k.master.Seed(), []byte(kdfSalt), []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed)), nil
}
