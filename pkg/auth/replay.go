package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// DefaultReplayCacheSize is the number of live token IDs remembered.
const DefaultReplayCacheSize = 1 << 16

// ReplayGuard remembers token IDs until they expire so that a captured
// token cannot be submitted twice. Once full, the least recently seen IDs
// are evicted first.
type ReplayGuard struct {
	mu   sync.Mutex
	seen *lru.Cache // jti -> expiry
}

func NewReplayGuard(size int) (*ReplayGuard, error) {
	if size <= 0 {
		size = DefaultReplayCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("replay cache: %w", err)
	}
	return &ReplayGuard{seen: c}, nil
}

// Check records jti and fails if it was already used and has not expired.
func (g *ReplayGuard) Check(jti string, expires, now time.Time) error {
	if jti == "" {
		return fmt.Errorf("%w: jti is required", agent.ErrUnauthorized)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.seen.Get(jti); ok {
		if exp, _ := v.(time.Time); now.Before(exp) {
			return fmt.Errorf("%w: %w", agent.ErrUnauthorized, ErrReplayed)
		}
	}
	g.seen.Add(jti, expires)
	return nil
}

// Len returns the number of remembered token IDs.
func (g *ReplayGuard) Len() int {
	return g.seen.Len()
}

// ErrReplayed marks a token that was already accepted once.
var ErrReplayed = errors.New("token already used")
