// Package agent defines the agent record, its reputation state machine and
// the fixed-width record layout shared by every persistence backend.
//
// An agent is created once, bound to the Ed25519 public key that registered
// it, and afterwards only its reputation score and last event change. The
// score is always within [MinScore, MaxScore]; deltas that would leave the
// range saturate at the boundary instead of failing.
package agent

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
)

// Score bounds. Both are inclusive.
const (
	MinScore int64 = 0
	MaxScore int64 = 10_000
)

// PublicKeySize is the width of an authority key.
const PublicKeySize = ed25519.PublicKeySize

// ReferenceSize is the width of the opaque evidence reference on a delta.
const ReferenceSize = 32

// handleSeed is mixed into every handle so that handles live in their own
// namespace and cannot collide with a raw key.
const handleSeed = "agent"

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key size: %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// PublicKeyFrom converts an ed25519.PublicKey.
func PublicKeyFrom(k ed25519.PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(k) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key size: %d", len(k))
	}
	copy(pk[:], k)
	return pk, nil
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether k is the all-zero key.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Equal compares two keys in constant time.
func (k PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Ed25519 returns k as a stdlib key.
func (k PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(k[:])
}

// Handle identifies an agent record. It is derived from the authority key,
// which makes the key -> record mapping one-to-one.
type Handle [sha256.Size]byte

// DeriveHandle returns the record handle owned by authority.
func DeriveHandle(authority PublicKey) Handle {
	h := sha256.New()
	h.Write([]byte(handleSeed))
	h.Write(authority[:])
	var out Handle
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHandle decodes a hex encoded handle.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid handle hex: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid handle size: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

// ReputationDelta is a signed score adjustment plus a reference to the
// evidence that justified it (typically a content hash).
type ReputationDelta struct {
	ScoreChange int64
	Reference   [ReferenceSize]byte
}

// ParseReference decodes a hex encoded 32-byte reference.
func ParseReference(s string) ([ReferenceSize]byte, error) {
	var ref [ReferenceSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ref, fmt.Errorf("invalid reference hex: %w", err)
	}
	if len(raw) != ReferenceSize {
		return ref, fmt.Errorf("invalid reference size: %d", len(raw))
	}
	copy(ref[:], raw)
	return ref, nil
}

// Agent is the persisted state of one registered identity.
type Agent struct {
	Authority       PublicKey
	Metadata        Metadata
	ReputationScore int64
	LastEvent       ReputationDelta
}

// New returns a freshly registered agent: score 0, zero last event.
func New(authority PublicKey, md Metadata) *Agent {
	return &Agent{
		Authority:       authority,
		Metadata:        md,
		ReputationScore: MinScore,
	}
}

// Handle returns the record handle of a.
func (a *Agent) Handle() Handle {
	return DeriveHandle(a.Authority)
}

// Clone returns a deep copy. Agent holds only arrays and scalars, so a value
// copy is enough.
func (a *Agent) Clone() *Agent {
	c := *a
	return &c
}

// Apply moves the score by d.ScoreChange, saturating at the bounds, and
// replaces the last event with d even when the score does not move.
// It reports whether the raw sum fell outside the bounds.
func (a *Agent) Apply(d ReputationDelta) (clamped bool) {
	raw := saturatingAdd(a.ReputationScore, d.ScoreChange)
	a.ReputationScore = Clamp(raw, MinScore, MaxScore)
	a.LastEvent = d
	return raw != a.ReputationScore
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// saturatingAdd adds without wrapping; overflow pins to the int64 limits,
// which then clamp like any other out-of-range sum.
func saturatingAdd(a, b int64) int64 {
	s := a + b
	switch {
	case b > 0 && s < a:
		return math.MaxInt64
	case b < 0 && s > a:
		return math.MinInt64
	}
	return s
}
