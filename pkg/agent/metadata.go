package agent

import (
	"bytes"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// CapabilitiesURISize is the fixed width of the capability reference.
const CapabilitiesURISize = 64

// Metadata describes an agent. It is fixed-size so that every record has
// the same length.
type Metadata struct {
	CapabilitiesURI [CapabilitiesURISize]byte
	Disclosure      uint8
}

// NewMetadata packs uri into the fixed-width buffer. The uri is NFC
// normalized first; anything longer than CapabilitiesURISize bytes after
// normalization is rejected rather than truncated.
func NewMetadata(uri string, disclosure uint8) (Metadata, error) {
	var md Metadata
	packed, err := PackURI(uri)
	if err != nil {
		return md, err
	}
	md.CapabilitiesURI = packed
	md.Disclosure = disclosure
	return md, nil
}

// PackURI normalizes uri and zero-pads it to CapabilitiesURISize.
func PackURI(uri string) ([CapabilitiesURISize]byte, error) {
	var out [CapabilitiesURISize]byte
	normalized := norm.NFC.String(uri)
	if len(normalized) > CapabilitiesURISize {
		return out, fmt.Errorf("%w: %d bytes, max %d", ErrMetadataTooLarge, len(normalized), CapabilitiesURISize)
	}
	copy(out[:], normalized)
	return out, nil
}

// URI returns the capability reference with the zero padding removed.
func (m Metadata) URI() string {
	return string(bytes.TrimRight(m.CapabilitiesURI[:], "\x00"))
}
