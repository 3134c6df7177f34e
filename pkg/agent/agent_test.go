package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk, err := PublicKeyFrom(pub)
	require.NoError(t, err)
	return pk
}

func TestNew_StartsAtZero(t *testing.T) {
	md, err := NewMetadata("ipfs://abc", 1)
	require.NoError(t, err)

	a := New(testKey(t), md)
	assert.Equal(t, int64(0), a.ReputationScore)
	assert.Equal(t, ReputationDelta{}, a.LastEvent)
	assert.Equal(t, "ipfs://abc", a.Metadata.URI())
	assert.Equal(t, uint8(1), a.Metadata.Disclosure)
}

func TestApply_Saturates(t *testing.T) {
	tests := []struct {
		name    string
		start   int64
		change  int64
		want    int64
		clamped bool
	}{
		{"upper boundary", 9999, 50, 10000, true},
		{"lower boundary", 5, -100, 0, true},
		{"inside range", 300, -50, 250, false},
		{"exactly max", 9000, 1000, 10000, false},
		{"already at max", 10000, 1, 10000, true},
		{"already at min", 0, -1, 0, true},
		{"max int64 delta", 10, math.MaxInt64, 10000, true},
		{"min int64 delta", 10, math.MinInt64, 0, true},
		{"zero delta", 42, 0, 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Agent{ReputationScore: tt.start}
			d := ReputationDelta{ScoreChange: tt.change, Reference: [32]byte{7}}
			clamped := a.Apply(d)
			assert.Equal(t, tt.want, a.ReputationScore)
			assert.Equal(t, tt.clamped, clamped)
			assert.Equal(t, d, a.LastEvent)
		})
	}
}

func TestApply_LastEventOverwrittenAtBoundary(t *testing.T) {
	a := &Agent{ReputationScore: MaxScore, LastEvent: ReputationDelta{ScoreChange: 1}}
	d := ReputationDelta{ScoreChange: 500, Reference: [32]byte{0xAA}}

	a.Apply(d)

	assert.Equal(t, MaxScore, a.ReputationScore)
	assert.Equal(t, d, a.LastEvent)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), saturatingAdd(math.MaxInt64, 1))
	assert.Equal(t, int64(math.MinInt64), saturatingAdd(math.MinInt64, -1))
	assert.Equal(t, int64(3), saturatingAdd(1, 2))
	assert.Equal(t, int64(-1), saturatingAdd(1, -2))
}

func TestDeriveHandle_Deterministic(t *testing.T) {
	k1 := testKey(t)
	k2 := testKey(t)

	assert.Equal(t, DeriveHandle(k1), DeriveHandle(k1))
	assert.NotEqual(t, DeriveHandle(k1), DeriveHandle(k2))

	a := New(k1, Metadata{})
	assert.Equal(t, DeriveHandle(k1), a.Handle())
}

func TestHandle_RoundTrip(t *testing.T) {
	h := DeriveHandle(testKey(t))
	parsed, err := ParseHandle(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHandle("zz")
	assert.Error(t, err)
	_, err = ParseHandle("abcd")
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	k := testKey(t)
	parsed, err := ParsePublicKey(k.String())
	require.NoError(t, err)
	assert.True(t, k.Equal(parsed))

	_, err = ParsePublicKey(strings.Repeat("ab", 31))
	assert.Error(t, err)
	_, err = ParsePublicKey("not-hex")
	assert.Error(t, err)
}

func TestPublicKey_IsZero(t *testing.T) {
	assert.True(t, PublicKey{}.IsZero())
	assert.False(t, testKey(t).IsZero())
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference(strings.Repeat("01", 32))
	require.NoError(t, err)
	assert.Equal(t, byte(1), ref[31])

	_, err = ParseReference("01")
	assert.Error(t, err)
}

func TestNewMetadata_RejectsOversizeURI(t *testing.T) {
	_, err := NewMetadata(strings.Repeat("a", CapabilitiesURISize+1), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMetadataTooLarge))

	md, err := NewMetadata(strings.Repeat("a", CapabilitiesURISize), 0)
	require.NoError(t, err)
	assert.Equal(t, CapabilitiesURISize, len(md.URI()))
}

func TestPackURI_NormalizesNFC(t *testing.T) {
	decomposed := "ipfs://cafe\u0301"
	composed := "ipfs://caf\u00e9"
	require.NotEqual(t, decomposed, composed)

	a, err := PackURI(decomposed)
	require.NoError(t, err)
	b, err := PackURI(composed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClone_Independent(t *testing.T) {
	a := New(testKey(t), Metadata{})
	c := a.Clone()
	c.Apply(ReputationDelta{ScoreChange: 10})
	assert.Equal(t, int64(0), a.ReputationScore)
	assert.Equal(t, int64(10), c.ReputationScore)
}
