package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
	"github.com/Mindburn-Labs/agent-registry/pkg/registry"
	"github.com/Mindburn-Labs/agent-registry/pkg/store"
)

func TestLog_AppendChains(t *testing.T) {
	l := NewLog()
	h := agent.DeriveHandle(agent.PublicKey{1})

	e1, err := l.Append(registry.Event{Kind: registry.EventRegistered, Handle: h})
	require.NoError(t, err)
	e2, err := l.Append(registry.Event{
		Kind:   registry.EventReputationRecorded,
		Handle: h,
		Delta:  agent.ReputationDelta{ScoreChange: 5, Reference: [32]byte{0xFF}},
		Score:  5,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, genesis, e1.PreviousHash)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
	assert.Equal(t, e2.EntryHash, l.ChainHead())
	assert.Empty(t, e1.Reference)
	assert.Len(t, e2.Reference, 64)
	assert.NoError(t, l.VerifyChain())
}

func TestLog_DetectsTampering(t *testing.T) {
	l := NewLog()
	h := agent.DeriveHandle(agent.PublicKey{1})
	for i := 0; i < 3; i++ {
		_, err := l.Append(registry.Event{Kind: registry.EventReputationRecorded, Handle: h, Score: int64(i)})
		require.NoError(t, err)
	}

	l.entries[1].Score = 9999
	err := l.VerifyChain()
	assert.True(t, errors.Is(err, ErrChainBroken))
}

func TestLog_AppendReturnsCopy(t *testing.T) {
	l := NewLog()
	e, err := l.Append(registry.Event{Kind: registry.EventRegistered})
	require.NoError(t, err)

	e.Score = 42
	assert.NoError(t, l.VerifyChain())
}

func TestLog_MaxEntriesDropsOldest(t *testing.T) {
	l := NewLog(WithMaxEntries(3))
	h := agent.DeriveHandle(agent.PublicKey{1})

	_, err := l.Append(registry.Event{Kind: registry.EventRegistered, Handle: h})
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err := l.Append(registry.Event{Kind: registry.EventReputationRecorded, Handle: h, Score: int64(i)})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, l.Size())
	assert.Equal(t, uint64(2), l.Evicted())

	history := l.Query(QueryFilter{Handle: h.String()})
	require.Len(t, history, 3)
	assert.Equal(t, uint64(3), history[0].Sequence)
	assert.Equal(t, registry.EventReputationRecorded, history[0].Kind)
	assert.Equal(t, history[2].EntryHash, l.ChainHead())

	// The retained tail still verifies against the dropped entry's hash.
	assert.NoError(t, l.VerifyChain())
	l.entries[0].PreviousHash = genesis
	assert.True(t, errors.Is(l.VerifyChain(), ErrChainBroken))
}

func TestLog_AsRegistryObserver(t *testing.T) {
	ctx := context.Background()
	l := NewLog()
	reg := registry.New(store.NewMemoryStore(), registry.WithObserver(l))

	owner := agent.PublicKey{9}
	other := agent.PublicKey{8}
	h, _, err := reg.Register(ctx, owner, agent.Metadata{})
	require.NoError(t, err)
	_, _, err = reg.Register(ctx, other, agent.Metadata{})
	require.NoError(t, err)

	_, err = reg.RecordReputation(ctx, h, owner, agent.ReputationDelta{ScoreChange: 12000})
	require.NoError(t, err)
	_, err = reg.RecordReputation(ctx, h, owner, agent.ReputationDelta{ScoreChange: -1})
	require.NoError(t, err)
	// Rejected mutations are not logged.
	_, err = reg.RecordReputation(ctx, h, other, agent.ReputationDelta{ScoreChange: 1})
	require.Error(t, err)

	assert.Equal(t, 4, l.Size())
	history := l.Query(QueryFilter{Handle: h.String()})
	require.Len(t, history, 3)
	assert.Equal(t, registry.EventRegistered, history[0].Kind)
	assert.Equal(t, int64(10000), history[1].Score)
	assert.True(t, history[1].Clamped)
	assert.Equal(t, int64(10000), history[2].PreviousScore)
	assert.Equal(t, int64(9999), history[2].Score)

	recorded := l.Query(QueryFilter{Kind: registry.EventReputationRecorded, MaxResults: 1})
	require.Len(t, recorded, 1)
	assert.Equal(t, uint64(3), recorded[0].Sequence)

	assert.NoError(t, l.VerifyChain())
}
