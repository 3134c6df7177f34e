package auth

import (
	"context"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

type callerKey struct{}

// WithCaller attaches a verified caller key to the context.
func WithCaller(ctx context.Context, pk agent.PublicKey) context.Context {
	return context.WithValue(ctx, callerKey{}, pk)
}

// CallerFrom retrieves the verified caller key. It fails with
// agent.ErrUnauthorized when no middleware has put one there.
func CallerFrom(ctx context.Context) (agent.PublicKey, error) {
	pk, ok := ctx.Value(callerKey{}).(agent.PublicKey)
	if !ok || pk.IsZero() {
		return agent.PublicKey{}, agent.ErrUnauthorized
	}
	return pk, nil
}
