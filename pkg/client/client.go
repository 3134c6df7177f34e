// Package client provides a typed Go client for the agent registry API.
// Mutating calls are signed with the agent's Ed25519 key.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/api"
	"github.com/Mindburn-Labs/agent-registry/pkg/auth"
	"github.com/Mindburn-Labs/agent-registry/pkg/crypto"
)

// DefaultCompatibility is the server version range this client speaks.
const DefaultCompatibility = ">= 1.0.0, < 2.0.0"

// ErrNoSigner is returned by mutating calls on a client built without a key.
var ErrNoSigner = errors.New("client has no signing key")

// ErrHandleMismatch is returned when a read answers with a different agent
// than the one requested.
var ErrHandleMismatch = errors.New("response is for a different agent")

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status    int
	Title     string
	Detail    string
	Code      string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agentreg api %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("agentreg api %d: %s", e.Status, e.Detail)
}

// Is lets callers match API errors against the agent sentinels, e.g.
// errors.Is(err, agent.ErrConflict).
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "unauthorized":
		return target == agent.ErrUnauthorized
	case "admission_denied":
		return target == agent.ErrAdmissionDenied
	case "not_found":
		return target == agent.ErrNotFound
	case "already_exists":
		return target == agent.ErrAlreadyExists
	case "conflict":
		return target == agent.ErrConflict
	case "metadata_too_large":
		return target == agent.ErrMetadataTooLarge
	case "allocation_failed":
		return target == agent.ErrAllocationFailed
	}
	return e.Status == http.StatusUnauthorized && target == agent.ErrUnauthorized
}

// Client is a typed client for the agent registry API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	signer   *crypto.Ed25519Signer
	tokenTTL time.Duration
	now      func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithSigner sets the key used to sign mutating requests.
func WithSigner(s *crypto.Ed25519Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTokenTTL sets the lifetime of each request token.
func WithTokenTTL(d time.Duration) Option {
	return func(c *Client) { c.tokenTTL = d }
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokenTTL: time.Minute,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authority returns the signing key's public half, or the zero key.
func (c *Client) Authority() agent.PublicKey {
	if c.signer == nil {
		return agent.PublicKey{}
	}
	return c.signer.PublicKey()
}

func (c *Client) do(ctx context.Context, method, path string, body any, signed bool, out any) error {
	target, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	var raw []byte
	if body != nil {
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		if c.signer == nil {
			return ErrNoSigner
		}
		token, err := auth.IssueToken(c.signer, method, target.Path, raw, c.tokenTTL, c.now())
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: "unknown error", RequestID: resp.Header.Get(api.RequestIDHeader)}
		var problem api.ProblemDetail
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &problem); err == nil {
			apiErr.Title = problem.Title
			apiErr.Detail = problem.Detail
			apiErr.Code = problem.Code
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Register calls POST /v1/agents for the client's own key.
func (c *Client) Register(ctx context.Context, capabilitiesURI string, disclosure uint8) (*api.AgentResponse, error) {
	var out api.AgentResponse
	err := c.do(ctx, http.MethodPost, "/v1/agents",
		api.RegisterRequest{CapabilitiesURI: capabilitiesURI, Disclosure: disclosure}, true, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordReputation calls POST /v1/agents/{handle}/reputation.
func (c *Client) RecordReputation(ctx context.Context, h agent.Handle, d agent.ReputationDelta) (*api.AgentResponse, error) {
	var out api.AgentResponse
	req := api.ReputationRequest{
		ScoreChange: d.ScoreChange,
		Reference:   hex.EncodeToString(d.Reference[:]),
	}
	if err := c.do(ctx, http.MethodPost, "/v1/agents/"+h.String()+"/reputation", req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get calls GET /v1/agents/{handle}.
func (c *Client) Get(ctx context.Context, h agent.Handle) (*api.AgentResponse, error) {
	var out api.AgentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+h.String(), nil, false, &out); err != nil {
		return nil, err
	}
	if err := checkRecord(h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByAuthority calls GET /v1/authorities/{pubkey}.
func (c *Client) GetByAuthority(ctx context.Context, pk agent.PublicKey) (*api.AgentResponse, error) {
	var out api.AgentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/authorities/"+pk.String(), nil, false, &out); err != nil {
		return nil, err
	}
	if err := checkRecord(agent.DeriveHandle(pk), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// checkRecord confirms the server answered with the record stored at h.
// The handle is derived from the record's authority, so a response for any
// other agent cannot pass.
func checkRecord(h agent.Handle, resp *api.AgentResponse) error {
	rec, err := resp.Agent.ToAgent()
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if rec.Handle() != h || resp.Handle != h.String() {
		return fmt.Errorf("%w: asked for %s, got %s", ErrHandleMismatch, h, rec.Handle())
	}
	return nil
}

// Events calls GET /v1/agents/{handle}/events. A limit of zero uses the
// server default.
func (c *Client) Events(ctx context.Context, h agent.Handle, limit int) (*api.EventsResponse, error) {
	path := "/v1/agents/" + h.String() + "/events"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out api.EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckCompatibility fetches the server version and checks it against
// constraint (DefaultCompatibility when empty).
func (c *Client) CheckCompatibility(ctx context.Context, constraint string) (*semver.Version, error) {
	if constraint == "" {
		constraint = DefaultCompatibility
	}
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	health, err := c.Health(ctx)
	if err != nil {
		return nil, err
	}
	v, err := semver.NewVersion(health.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid server version %q: %w", health.Version, err)
	}
	if !cons.Check(v) {
		return v, fmt.Errorf("server version %s does not satisfy %s", v, constraint)
	}
	return v, nil
}

// RetryOnConflict runs fn until it succeeds, fails with anything other than
// agent.ErrConflict, or attempts run out. The registry never retries
// internally, so this is the caller-side loop for contended records.
func RetryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	backoff := 20 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); !errors.Is(err, agent.ErrConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
