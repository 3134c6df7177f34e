package registry

import (
	"context"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// EventKind names an applied registry mutation.
type EventKind string

const (
	EventRegistered         EventKind = "agent.registered"
	EventReputationRecorded EventKind = "agent.reputation_recorded"
)

// Event describes a mutation after it has been committed to the store.
type Event struct {
	Kind          EventKind
	Handle        agent.Handle
	Authority     agent.PublicKey
	Delta         agent.ReputationDelta
	PreviousScore int64
	Score         int64
	Clamped       bool
}

// Observer receives committed events. Observers run synchronously on the
// request path, after the store write.
type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Observe(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
