package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "bad field")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, ProblemTypeBase+"400", p.Type)
	assert.Equal(t, "bad field", p.Detail)
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "")
	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Equal(t, "Authentication required", p.Detail)
}

func TestWriteInternal_HidesError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/agents/x", nil)
	WriteInternal(rec, req, errors.New("pq: password authentication failed"))
	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.NotContains(t, p.Detail, "password")
	assert.Equal(t, "/v1/agents/x", p.Instance)
}

func TestWriteNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNotFound(rec, httptest.NewRequest(http.MethodGet, "/v1/agents/x/events", nil), "audit log is not enabled")
	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Equal(t, "/v1/agents/x/events", p.Instance)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{agent.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{agent.ErrNotFound, http.StatusNotFound, "not_found"},
		{agent.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{agent.ErrConflict, http.StatusConflict, "conflict"},
		{agent.ErrMetadataTooLarge, http.StatusBadRequest, "metadata_too_large"},
		{agent.ErrAllocationFailed, http.StatusInsufficientStorage, "allocation_failed"},
		{agent.ErrAdmissionDenied, http.StatusForbidden, "admission_denied"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/agents", nil)
			rec := httptest.NewRecorder()
			rec.Header().Set(RequestIDHeader, "req-1")

			WriteDomainError(rec, req, fmt.Errorf("register: %w", tt.err))

			assert.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, "/v1/agents", p.Instance)
			assert.Equal(t, "req-1", p.TraceID)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-supplied", seen)
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2, func(r *http.Request) string { return r.Header.Get("X-Key") })
	defer rl.Close()

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("a").Code)
	assert.Equal(t, http.StatusOK, send("a").Code)
	limited := send("a")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// Another key has its own bucket.
	assert.Equal(t, http.StatusOK, send("b").Code)
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Close()

	rl.Allow("stale")
	rl.Allow("fresh")
	rl.mu.Lock()
	rl.visitors["stale"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evictIdle(time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "stale")
	assert.Contains(t, rl.visitors, "fresh")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.RemoteAddr = "[::1]"
	assert.Equal(t, "::1", ClientIP(req))
}
