// Package auth proves that a request was made by the holder of an Ed25519
// private key.
//
// Each mutating request carries a short-lived, self-signed EdDSA JWT. The
// subject is the caller's hex public key and also the verification key, so
// no key registry is needed: a valid signature is the proof of control. The
// token is bound to one request by method, path and a hash of the
// canonicalized body.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/crypto"
)

// DefaultMaxAge bounds token lifetime when none is configured.
const DefaultMaxAge = 5 * time.Minute

// Claims are the JWT claims carried by a signed request.
type Claims struct {
	jwt.RegisteredClaims
	Method   string `json:"htm"`
	Path     string `json:"htu"`
	BodyHash string `json:"bh"`
}

// IssueToken signs a token for one request.
func IssueToken(s *crypto.Ed25519Signer, method, path string, body []byte, ttl time.Duration, now time.Time) (string, error) {
	bh, err := crypto.BodyHash(body)
	if err != nil {
		return "", err
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.PublicKey().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Method:   method,
		Path:     path,
		BodyHash: bh,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.PrivateKey())
}

// TokenVerifier validates signed-request tokens.
type TokenVerifier struct {
	// MaxAge is the longest lifetime (exp - iat) a token may declare.
	MaxAge time.Duration
	// Leeway tolerates clock skew on iat and exp.
	Leeway time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
	// Replay, when set, rejects a token ID seen before its expiry.
	Replay *ReplayGuard
}

func NewTokenVerifier(maxAge time.Duration) *TokenVerifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &TokenVerifier{MaxAge: maxAge, Leeway: 30 * time.Second}
}

func (v *TokenVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// keyFunc verifies the token against the key named by its own subject.
func keyFunc(token *jwt.Token) (any, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	pk, err := agent.ParsePublicKey(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	return pk.Ed25519(), nil
}

// Verify checks the token and its binding to the request and returns the
// caller's key. Every failure wraps agent.ErrUnauthorized.
func (v *TokenVerifier) Verify(tokenStr, method, path string, body []byte) (agent.PublicKey, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return agent.PublicKey{}, fmt.Errorf("%w: %v", agent.ErrUnauthorized, err)
	}
	if !token.Valid {
		return agent.PublicKey{}, fmt.Errorf("%w: invalid token", agent.ErrUnauthorized)
	}

	if claims.IssuedAt == nil {
		return agent.PublicKey{}, fmt.Errorf("%w: iat is required", agent.ErrUnauthorized)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.MaxAge {
		return agent.PublicKey{}, fmt.Errorf("%w: token lifetime exceeds %s", agent.ErrUnauthorized, v.MaxAge)
	}

	if claims.Method != method || claims.Path != path {
		return agent.PublicKey{}, fmt.Errorf("%w: token bound to %s %s", agent.ErrUnauthorized, claims.Method, claims.Path)
	}
	bh, err := crypto.BodyHash(body)
	if err != nil {
		return agent.PublicKey{}, fmt.Errorf("%w: %v", agent.ErrUnauthorized, err)
	}
	if subtle.ConstantTimeCompare([]byte(bh), []byte(claims.BodyHash)) != 1 {
		return agent.PublicKey{}, fmt.Errorf("%w: body hash mismatch", agent.ErrUnauthorized)
	}

	pk, err := agent.ParsePublicKey(claims.Subject)
	if err != nil {
		return agent.PublicKey{}, fmt.Errorf("%w: %v", agent.ErrUnauthorized, err)
	}
	if pk.IsZero() {
		return agent.PublicKey{}, fmt.Errorf("%w: zero key", agent.ErrUnauthorized)
	}

	if v.Replay != nil {
		if err := v.Replay.Check(claims.ID, claims.ExpiresAt.Add(v.Leeway), v.now()); err != nil {
			return agent.PublicKey{}, err
		}
	}
	return pk, nil
}
