package store

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

func newTestAgent(t *testing.T) (agent.Handle, *agent.Agent) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk, err := agent.PublicKeyFrom(pub)
	require.NoError(t, err)
	md, err := agent.NewMetadata("https://example.com/caps.json", 1)
	require.NoError(t, err)
	a := agent.New(pk, md)
	return a.Handle(), a
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, s Backend) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		h, a := newTestAgent(t)
		require.NoError(t, s.Create(ctx, h, a))

		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	})

	t.Run("duplicate create", func(t *testing.T) {
		h, a := newTestAgent(t)
		require.NoError(t, s.Create(ctx, h, a))

		other := a.Clone()
		other.ReputationScore = 42
		err := s.Create(ctx, h, other)
		assert.True(t, errors.Is(err, agent.ErrAlreadyExists))

		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.ReputationScore)
	})

	t.Run("missing record", func(t *testing.T) {
		h, _ := newTestAgent(t)
		_, err := s.Get(ctx, h)
		assert.True(t, errors.Is(err, agent.ErrNotFound))

		_, err = s.Update(ctx, h, func(*agent.Agent) error { return nil })
		assert.True(t, errors.Is(err, agent.ErrNotFound))
	})

	t.Run("update applies and persists", func(t *testing.T) {
		h, a := newTestAgent(t)
		require.NoError(t, s.Create(ctx, h, a))

		d := agent.ReputationDelta{ScoreChange: 300, Reference: [32]byte{5}}
		updated, err := s.Update(ctx, h, func(a *agent.Agent) error {
			a.Apply(d)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(300), updated.ReputationScore)

		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(300), got.ReputationScore)
		assert.Equal(t, d, got.LastEvent)
	})

	t.Run("failed update leaves record untouched", func(t *testing.T) {
		h, a := newTestAgent(t)
		require.NoError(t, s.Create(ctx, h, a))

		boom := errors.New("boom")
		_, err := s.Update(ctx, h, func(a *agent.Agent) error {
			a.Apply(agent.ReputationDelta{ScoreChange: 500})
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.ReputationScore)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_Capacity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithCapacity(1))

	h1, a1 := newTestAgent(t)
	require.NoError(t, s.Create(ctx, h1, a1))

	h2, a2 := newTestAgent(t)
	err := s.Create(ctx, h2, a2)
	assert.True(t, errors.Is(err, agent.ErrAllocationFailed))
	assert.Equal(t, 1, s.Len())

	// Duplicates still report AlreadyExists when full.
	err = s.Create(ctx, h1, a1)
	assert.True(t, errors.Is(err, agent.ErrAlreadyExists))
}

func TestMemoryStore_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	h, a := newTestAgent(t)
	require.NoError(t, s.Create(ctx, h, a))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, h, func(a *agent.Agent) error {
				a.Apply(agent.ReputationDelta{ScoreChange: 10})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.ReputationScore)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	h, a := newTestAgent(t)
	require.NoError(t, s.Create(ctx, h, a))

	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	got.ReputationScore = 9999

	again, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.ReputationScore)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "agents.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: DriverSQLite})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: DriverRedis})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: DriverS3})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: DriverGCS})
	assert.Error(t, err)
	_, err = Open(ctx, Options{Driver: "etcd"})
	assert.Error(t, err)
}
