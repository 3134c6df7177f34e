package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal marshals v and rewrites it into RFC 8785 canonical form.
func CanonicalMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return out, nil
}

// BodyHash binds a request body to a token. JSON bodies are canonicalized
// first so that key order and whitespace do not change the hash; an empty
// body hashes as the empty string. The result is unpadded base64url.
// Canonical numbers are doubles, so integers beyond 2^53 in magnitude are
// not bound exactly; request schemas keep integer fields below that.
func BodyHash(body []byte) (string, error) {
	data := body
	if len(body) > 0 {
		canon, err := jcs.Transform(body)
		if err != nil {
			return "", fmt.Errorf("canonicalize body: %w", err)
		}
		data = canon
	}
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
