// Package crypto holds the Ed25519 primitives used to prove caller identity:
// signers, canonical body hashing and deterministic key derivation.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// Ed25519Signer holds one agent authority's key pair.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  agent.PublicKey
}

func NewEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv), nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey) *Ed25519Signer {
	s := &Ed25519Signer{privKey: priv}
	copy(s.pubKey[:], priv.Public().(ed25519.PublicKey))
	return s
}

// NewEd25519SignerFromSeed rebuilds a signer from its 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed)), nil
}

func (s *Ed25519Signer) PublicKey() agent.PublicKey {
	return s.pubKey
}

// PrivateKey exposes the key for token signing.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.privKey
}

// Seed returns the 32-byte private seed.
func (s *Ed25519Signer) Seed() []byte {
	return s.privKey.Seed()
}
