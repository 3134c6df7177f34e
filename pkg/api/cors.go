package api

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS handles Cross-Origin Resource Sharing for the given origins ("*"
// allows any). With no origins configured, no CORS headers are sent and
// browsers fall back to same-origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", RequestIDHeader},
		MaxAge:         86400,
	})
	return c.Handler
}
