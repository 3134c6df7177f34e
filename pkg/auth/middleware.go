package auth

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/agent-registry/pkg/api"
)

// DefaultMaxBodyBytes caps the body read for hashing.
const DefaultMaxBodyBytes = 64 << 10

// NewMiddleware creates signed-request auth middleware. The body is read
// once for verification and restored for the handler.
// If verifier is nil, every request is rejected (fail closed).
func NewMiddleware(verifier *TokenVerifier, maxBody int64) func(http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if verifier == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					api.WriteRequestTooLarge(w, maxBody)
					return
				}
				api.WriteBadRequest(w, "Unable to read request body")
				return
			}

			caller, err := verifier.Verify(parts[1], r.Method, r.URL.Path, body)
			if err != nil {
				slog.DebugContext(r.Context(), "request authentication failed",
					"path", r.URL.Path,
					"request_id", api.GetRequestID(r.Context()),
					"error", err,
				)
				api.WriteUnauthorized(w, "Invalid or expired request signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			ctx := WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerKey keys rate limiting by verified caller, falling back to client IP
// for anonymous requests.
func CallerKey(r *http.Request) string {
	if pk, err := CallerFrom(r.Context()); err == nil {
		return "key:" + pk.String()
	}
	return "ip:" + api.ClientIP(r)
}
