package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSize(t *testing.T) {
	// 8 discriminator + 32 authority + 65 metadata + 8 score + 40 delta
	assert.Equal(t, 153, RecordSize)
}

func TestEncodeDecode(t *testing.T) {
	md, err := NewMetadata("ipfs://abc", 3)
	require.NoError(t, err)
	a := New(testKey(t), md)
	a.Apply(ReputationDelta{ScoreChange: -20, Reference: [32]byte{1, 2, 3}})
	a.Apply(ReputationDelta{ScoreChange: 7500, Reference: [32]byte{9}})

	buf := Encode(a)
	require.Len(t, buf, RecordSize)
	assert.Equal(t, Discriminator[:], buf[:DiscriminatorSize])

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestEncode_NegativeScoreChangeLayout(t *testing.T) {
	a := &Agent{LastEvent: ReputationDelta{ScoreChange: -1}}
	buf := Encode(a)
	for i := offScoreChange; i < offReference; i++ {
		assert.Equal(t, byte(0xFF), buf[i], "byte %d", i)
	}
}

func TestDecode_Rejects(t *testing.T) {
	good := Encode(New(testKey(t), Metadata{}))

	_, err := Decode(good[:RecordSize-1])
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	bad := append([]byte(nil), good...)
	bad[0] ^= 0xFF
	_, err = Decode(bad)
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	outOfRange := Encode(&Agent{ReputationScore: MaxScore + 1})
	_, err = Decode(outOfRange)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}
