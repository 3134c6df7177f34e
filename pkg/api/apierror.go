// Package api provides RFC 7807 Problem Detail error responses and shared HTTP
// middleware for the registry API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// ProblemTypeBase prefixes the type URI of every problem response.
const ProblemTypeBase = "https://agentreg.mindburn.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID carries the request ID for correlation.
	TraceID string `json:"trace_id,omitempty"`
	// Code is a stable, machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", ProblemTypeBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
	})
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteErrorR(w, r, http.StatusNotFound, "Not Found", detail)
}

// WriteRequestTooLarge writes a 413 error response.
func WriteRequestTooLarge(w http.ResponseWriter, limit int64) {
	WriteError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
		fmt.Sprintf("Request body exceeds %d bytes", limit))
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error",
		"error", err,
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// domainErrors maps registry sentinels onto HTTP problems. Order matters:
// the first match wins.
var domainErrors = []struct {
	err    error
	status int
	title  string
	code   string
}{
	{agent.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized", "unauthorized"},
	{agent.ErrAdmissionDenied, http.StatusForbidden, "Forbidden", "admission_denied"},
	{agent.ErrNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{agent.ErrAlreadyExists, http.StatusConflict, "Conflict", "already_exists"},
	{agent.ErrConflict, http.StatusConflict, "Conflict", "conflict"},
	{agent.ErrMetadataTooLarge, http.StatusBadRequest, "Bad Request", "metadata_too_large"},
	{agent.ErrAllocationFailed, http.StatusInsufficientStorage, "Insufficient Storage", "allocation_failed"},
}

// WriteDomainError translates a registry error into a problem response.
// Unknown errors are logged and reported as 500 without detail.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			writeProblem(w, &ProblemDetail{
				Type:     ProblemTypeBase + m.code,
				Title:    m.title,
				Status:   m.status,
				Detail:   m.err.Error(),
				Instance: r.URL.Path,
				TraceID:  w.Header().Get(RequestIDHeader),
				Code:     m.code,
			})
			return
		}
	}
	WriteInternal(w, r, err)
}
