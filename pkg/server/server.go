// Package server exposes the registry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/api"
	"github.com/Mindburn-Labs/agent-registry/pkg/audit"
	"github.com/Mindburn-Labs/agent-registry/pkg/auth"
	"github.com/Mindburn-Labs/agent-registry/pkg/registry"
)

// Version is the API version reported by /health.
const Version = "1.2.0"

// maxEvents bounds one page of audit history.
const maxEvents = 500

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the HTTP surface.
type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxTokenAge    time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		MaxTokenAge:    auth.DefaultMaxAge,
		MaxBodyBytes:   auth.DefaultMaxBodyBytes,
	}
}

// Server routes HTTP requests to a Registry.
type Server struct {
	reg     *registry.Registry
	audit   *audit.Log
	pinger  Pinger
	cfg     Config
	schemas *requestSchemas
	logger  *slog.Logger

	verifier      *auth.TokenVerifier
	ipLimiter     *api.RateLimiter
	callerLimiter *api.RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithAuditLog serves event history from l.
func WithAuditLog(l *audit.Log) Option {
	return func(s *Server) { s.audit = l }
}

// WithPinger makes /health report backend liveness.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVerifier replaces the default token verifier.
func WithVerifier(v *auth.TokenVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// New builds a Server. Close releases its rate limiters.
func New(reg *registry.Registry, cfg Config, opts ...Option) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = def.RateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
	}
	if cfg.MaxTokenAge <= 0 {
		cfg.MaxTokenAge = def.MaxTokenAge
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	s := &Server{
		reg:     reg,
		cfg:     cfg,
		schemas: schemas,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		guard, err := auth.NewReplayGuard(auth.DefaultReplayCacheSize)
		if err != nil {
			return nil, err
		}
		s.verifier = auth.NewTokenVerifier(cfg.MaxTokenAge)
		s.verifier.Replay = guard
	}
	s.ipLimiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, api.ClientIP)
	s.callerLimiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, auth.CallerKey)
	return s, nil
}

// Close stops background limiter cleanup.
func (s *Server) Close() {
	s.ipLimiter.Close()
	s.callerLimiter.Close()
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	authn := auth.NewMiddleware(s.verifier, s.cfg.MaxBodyBytes)
	signed := func(h http.HandlerFunc) http.Handler {
		return authn(s.callerLimiter.Middleware(h))
	}

	mux.Handle("POST /v1/agents", signed(s.handleRegister))
	mux.Handle("POST /v1/agents/{handle}/reputation", signed(s.handleRecordReputation))
	mux.HandleFunc("GET /v1/agents/{handle}", s.handleGet)
	mux.HandleFunc("GET /v1/agents/{handle}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/authorities/{pubkey}", s.handleGetByAuthority)
	mux.HandleFunc("GET /health", s.handleHealth)

	return api.RequestIDMiddleware(api.CORS(s.cfg.CORSOrigins)(s.ipLimiter.Middleware(mux)))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFrom(r.Context())
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	var req api.RegisterRequest
	if !s.decode(w, r, s.schemas.register, &req) {
		return
	}
	md, err := agent.NewMetadata(req.CapabilitiesURI, req.Disclosure)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}

	h, a, err := s.reg.Register(r.Context(), caller, md)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.AgentResponse{Handle: h.String(), Agent: api.FromAgent(a)})
}

func (s *Server) handleRecordReputation(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.CallerFrom(r.Context())
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	h, ok := pathHandle(w, r)
	if !ok {
		return
	}
	var req api.ReputationRequest
	if !s.decode(w, r, s.schemas.reputation, &req) {
		return
	}
	ref, err := agent.ParseReference(req.Reference)
	if err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	a, err := s.reg.RecordReputation(r.Context(), h, caller, agent.ReputationDelta{
		ScoreChange: req.ScoreChange,
		Reference:   ref,
	})
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AgentResponse{Handle: h.String(), Agent: api.FromAgent(a)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := pathHandle(w, r)
	if !ok {
		return
	}
	a, err := s.reg.Get(r.Context(), h)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AgentResponse{Handle: h.String(), Agent: api.FromAgent(a)})
}

func (s *Server) handleGetByAuthority(w http.ResponseWriter, r *http.Request) {
	pk, err := agent.ParsePublicKey(r.PathValue("pubkey"))
	if err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	a, err := s.reg.GetByAuthority(r.Context(), pk)
	if err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AgentResponse{Handle: a.Handle().String(), Agent: api.FromAgent(a)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	h, ok := pathHandle(w, r)
	if !ok {
		return
	}
	if s.audit == nil {
		api.WriteNotFound(w, r, "audit log is not enabled")
		return
	}
	limit := maxEvents
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEvents)
	}
	if _, err := s.reg.Get(r.Context(), h); err != nil {
		api.WriteDomainError(w, r, err)
		return
	}
	entries := s.audit.Query(audit.QueryFilter{Handle: h.String(), MaxResults: limit})
	writeJSON(w, http.StatusOK, api.EventsResponse{
		Handle:           h.String(),
		Events:           entries,
		FromRegistration: len(entries) > 0 && entries[0].Kind == registry.EventRegistered,
		ChainHead:        s.audit.ChainHead(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Version: Version}
	if s.audit != nil {
		resp.AuditEntries = s.audit.Size()
	}
	status := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "store ping failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// decode reads, validates and decodes the request body, writing a 400 on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteRequestTooLarge(w, s.cfg.MaxBodyBytes)
			return false
		}
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "unable to read request body")
		return false
	}
	if err := decodeBody(schema, body, dst); err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func pathHandle(w http.ResponseWriter, r *http.Request) (agent.Handle, bool) {
	h, err := agent.ParseHandle(r.PathValue("handle"))
	if err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return h, false
	}
	return h, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
