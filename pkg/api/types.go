package api

import (
	"encoding/hex"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/audit"
)

// RegisterRequest is the body of POST /v1/agents.
type RegisterRequest struct {
	CapabilitiesURI string `json:"capabilities_uri"`
	Disclosure      uint8  `json:"disclosure"`
}

// ReputationRequest is the body of POST /v1/agents/{handle}/reputation.
type ReputationRequest struct {
	ScoreChange int64  `json:"score_change"`
	Reference   string `json:"reference"`
}

// Event is the wire form of a reputation delta.
type Event struct {
	ScoreChange int64  `json:"score_change"`
	Reference   string `json:"reference"`
}

// Agent is the wire form of an agent record.
type Agent struct {
	Handle          string `json:"handle"`
	Authority       string `json:"authority"`
	CapabilitiesURI string `json:"capabilities_uri"`
	Disclosure      uint8  `json:"disclosure"`
	ReputationScore int64  `json:"reputation_score"`
	LastEvent       Event  `json:"last_event"`
}

// AgentResponse wraps a single agent.
type AgentResponse struct {
	Handle string `json:"handle"`
	Agent  Agent  `json:"agent"`
}

// EventsResponse lists audit history for one handle, oldest first.
// The audit log is in memory and bounded, so history older than the last
// restart or pushed out by newer entries is missing. FromRegistration
// reports whether the returned events start at the agent's registration.
type EventsResponse struct {
	Handle           string         `json:"handle"`
	Events           []*audit.Entry `json:"events"`
	FromRegistration bool           `json:"from_registration"`
	ChainHead        string         `json:"chain_head"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store,omitempty"`
	// AuditEntries is the number of events the audit log retains.
	AuditEntries int `json:"audit_entries"`
}

// FromAgent renders a for the wire.
func FromAgent(a *agent.Agent) Agent {
	return Agent{
		Handle:          a.Handle().String(),
		Authority:       a.Authority.String(),
		CapabilitiesURI: a.Metadata.URI(),
		Disclosure:      a.Metadata.Disclosure,
		ReputationScore: a.ReputationScore,
		LastEvent: Event{
			ScoreChange: a.LastEvent.ScoreChange,
			Reference:   hex.EncodeToString(a.LastEvent.Reference[:]),
		},
	}
}

// ToAgent parses the wire form back into a record.
func (a Agent) ToAgent() (*agent.Agent, error) {
	authority, err := agent.ParsePublicKey(a.Authority)
	if err != nil {
		return nil, err
	}
	md, err := agent.NewMetadata(a.CapabilitiesURI, a.Disclosure)
	if err != nil {
		return nil, err
	}
	ref, err := agent.ParseReference(a.LastEvent.Reference)
	if err != nil {
		return nil, err
	}
	return &agent.Agent{
		Authority:       authority,
		Metadata:        md,
		ReputationScore: a.ReputationScore,
		LastEvent:       agent.ReputationDelta{ScoreChange: a.LastEvent.ScoreChange, Reference: ref},
	}, nil
}
