package agent

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Record layout, little-endian, no padding:
//
//	[0:8)     discriminator
//	[8:40)    authority
//	[40:104)  capabilities uri
//	[104]     disclosure
//	[105:113) reputation score (int64)
//	[113:121) last event score change (int64)
//	[121:153) last event reference
const (
	DiscriminatorSize = 8
	MetadataSize      = CapabilitiesURISize + 1
	DeltaSize         = 8 + ReferenceSize
	RecordSize        = DiscriminatorSize + PublicKeySize + MetadataSize + 8 + DeltaSize
)

const (
	offAuthority   = DiscriminatorSize
	offURI         = offAuthority + PublicKeySize
	offDisclosure  = offURI + CapabilitiesURISize
	offScore       = offDisclosure + 1
	offScoreChange = offScore + 8
	offReference   = offScoreChange + 8
)

// Discriminator tags every encoded record so that foreign bytes are rejected
// on decode.
var Discriminator = func() [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:AgentState"))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}()

// Encode serializes a into its RecordSize-byte layout.
func Encode(a *Agent) []byte {
	buf := make([]byte, RecordSize)
	copy(buf[:DiscriminatorSize], Discriminator[:])
	copy(buf[offAuthority:offURI], a.Authority[:])
	copy(buf[offURI:offDisclosure], a.Metadata.CapabilitiesURI[:])
	buf[offDisclosure] = a.Metadata.Disclosure
	binary.LittleEndian.PutUint64(buf[offScore:], uint64(a.ReputationScore))
	binary.LittleEndian.PutUint64(buf[offScoreChange:], uint64(a.LastEvent.ScoreChange))
	copy(buf[offReference:RecordSize], a.LastEvent.Reference[:])
	return buf
}

// Decode parses a record produced by Encode. A stored score outside the
// bounds is treated as corruption.
func Decode(b []byte) (*Agent, error) {
	if len(b) != RecordSize {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidRecord, len(b), RecordSize)
	}
	if !bytes.Equal(b[:DiscriminatorSize], Discriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidRecord)
	}

	a := &Agent{}
	copy(a.Authority[:], b[offAuthority:offURI])
	copy(a.Metadata.CapabilitiesURI[:], b[offURI:offDisclosure])
	a.Metadata.Disclosure = b[offDisclosure]
	a.ReputationScore = int64(binary.LittleEndian.Uint64(b[offScore:]))
	a.LastEvent.ScoreChange = int64(binary.LittleEndian.Uint64(b[offScoreChange:]))
	copy(a.LastEvent.Reference[:], b[offReference:RecordSize])

	if a.ReputationScore < MinScore || a.ReputationScore > MaxScore {
		return nil, fmt.Errorf("%w: score %d out of range", ErrInvalidRecord, a.ReputationScore)
	}
	return a, nil
}
