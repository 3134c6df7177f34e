// Package registry implements the agent reputation state machine on top of a
// pluggable per-record Store.
//
// The registry itself holds no mutable state. Every mutation is a single
// Store.Update whose callback performs the authority check and applies the
// delta, so the check and the write are atomic with respect to other writers
// of the same record. Conflicts reported by the store are returned to the
// caller unchanged; the registry never retries.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/observability"
)

// Store persists agent records keyed by handle.
type Store interface {
	// Create inserts a new record. It fails with agent.ErrAlreadyExists when
	// the handle is taken and agent.ErrAllocationFailed when the backend
	// cannot make room for it.
	Create(ctx context.Context, h agent.Handle, a *agent.Agent) error
	// Get returns a copy of the record or agent.ErrNotFound.
	Get(ctx context.Context, h agent.Handle) (*agent.Agent, error)
	// Update loads the record, passes a copy to fn and writes the copy back
	// if fn returns nil. A concurrent write to the same record surfaces as
	// agent.ErrConflict. If fn fails, the stored record is untouched.
	Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error)
}

// Admitter decides whether a registration may proceed.
type Admitter interface {
	Admit(ctx context.Context, caller agent.PublicKey, md agent.Metadata) error
}

// Registry is the agent registry core.
type Registry struct {
	store     Store
	admission Admitter
	observers []Observer
	telemetry *observability.Provider
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver attaches an observer that is notified after each applied
// mutation.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithAdmission installs an admission check run before every registration.
func WithAdmission(a Admitter) Option {
	return func(r *Registry) { r.admission = a }
}

func WithTelemetry(p *observability.Provider) Option {
	return func(r *Registry) { r.telemetry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry backed by store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.telemetry == nil {
		// Disabled providers fall back to the global no-op instruments.
		r.telemetry, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return r
}

// Register creates the record owned by caller. The record starts with a
// zero score and a zero last event.
func (r *Registry) Register(ctx context.Context, caller agent.PublicKey, md agent.Metadata) (_ agent.Handle, _ *agent.Agent, err error) {
	h := agent.DeriveHandle(caller)
	ctx, finish := r.telemetry.TrackOperation(ctx, "registry.register")
	defer func() { finish(err) }()
	observability.AnnotateSpan(ctx, observability.AgentRegistration(h, md)...)

	if caller.IsZero() {
		return h, nil, fmt.Errorf("register: %w", agent.ErrUnauthorized)
	}

	if r.admission != nil {
		if err := r.admission.Admit(ctx, caller, md); err != nil {
			return h, nil, fmt.Errorf("register: %w", err)
		}
	}

	a := agent.New(caller, md)
	if err := r.store.Create(ctx, h, a); err != nil {
		return h, nil, fmt.Errorf("register %s: %w", h, err)
	}

	r.logger.InfoContext(ctx, "agent registered",
		"handle", h.String(),
		"authority", caller.String(),
		"disclosure", md.Disclosure,
	)

	r.notify(ctx, Event{
		Kind:      EventRegistered,
		Handle:    h,
		Authority: caller,
		Score:     a.ReputationScore,
	})

	return h, a.Clone(), nil
}

// RecordReputation applies d to the record at h. Only the record's authority
// may do so. The score saturates at the bounds and the last event is
// replaced with d even when the score does not move.
func (r *Registry) RecordReputation(ctx context.Context, h agent.Handle, caller agent.PublicKey, d agent.ReputationDelta) (_ *agent.Agent, err error) {
	ctx, finish := r.telemetry.TrackOperation(ctx, "registry.record_reputation",
		observability.DeltaDirection(d.ScoreChange))
	defer func() { finish(err) }()
	observability.AnnotateSpan(ctx, observability.AgentOperation(h)...)

	var (
		previous int64
		clamped  bool
	)
	updated, err := r.store.Update(ctx, h, func(a *agent.Agent) error {
		if !a.Authority.Equal(caller) {
			return agent.ErrUnauthorized
		}
		previous = a.ReputationScore
		clamped = a.Apply(d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record reputation %s: %w", h, err)
	}

	r.telemetry.RecordScore(ctx, updated.ReputationScore, clamped, observability.DeltaDirection(d.ScoreChange))

	r.logger.InfoContext(ctx, "reputation recorded",
		"handle", h.String(),
		"score_change", d.ScoreChange,
		"previous", previous,
		"score", updated.ReputationScore,
		"clamped", clamped,
	)

	r.notify(ctx, Event{
		Kind:          EventReputationRecorded,
		Handle:        h,
		Authority:     updated.Authority,
		Delta:         d,
		PreviousScore: previous,
		Score:         updated.ReputationScore,
		Clamped:       clamped,
	})

	return updated, nil
}

// Get returns the record at h.
func (r *Registry) Get(ctx context.Context, h agent.Handle) (_ *agent.Agent, err error) {
	ctx, finish := r.telemetry.TrackOperation(ctx, "registry.get")
	defer func() { finish(err) }()
	observability.AnnotateSpan(ctx, observability.AgentOperation(h)...)

	a, err := r.store.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", h, err)
	}
	return a, nil
}

// GetByAuthority returns the record owned by authority.
func (r *Registry) GetByAuthority(ctx context.Context, authority agent.PublicKey) (*agent.Agent, error) {
	return r.Get(ctx, r.HandleFor(authority))
}

// HandleFor returns the handle that authority registers under.
func (r *Registry) HandleFor(authority agent.PublicKey) agent.Handle {
	return agent.DeriveHandle(authority)
}

func (r *Registry) notify(ctx context.Context, ev Event) {
	for _, o := range r.observers {
		if err := o.Observe(ctx, ev); err != nil {
			// The mutation is already committed; observers cannot undo it.
			r.logger.ErrorContext(ctx, "observer failed",
				"event", string(ev.Kind),
				"handle", ev.Handle.String(),
				"error", err,
			)
		}
	}
}
