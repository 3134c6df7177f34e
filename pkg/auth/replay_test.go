package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

func TestReplayGuard(t *testing.T) {
	g, err := NewReplayGuard(4)
	require.NoError(t, err)
	now := time.Now()

	require.NoError(t, g.Check("a", now.Add(time.Minute), now))
	err = g.Check("a", now.Add(time.Minute), now)
	assert.True(t, errors.Is(err, ErrReplayed))
	assert.True(t, errors.Is(err, agent.ErrUnauthorized))

	// An expired entry may be reused; the verifier rejects the stale token
	// on its own.
	assert.NoError(t, g.Check("a", now.Add(3*time.Minute), now.Add(2*time.Minute)))

	assert.Error(t, g.Check("", now, now))

	for _, id := range []string{"b", "c", "d", "e"} {
		require.NoError(t, g.Check(id, now.Add(time.Minute), now))
	}
	assert.Equal(t, 4, g.Len())
}

func TestVerify_ReplayRejected(t *testing.T) {
	s := newSigner(t)
	tok, err := IssueToken(s, http.MethodPost, registerPath, registerBody, time.Minute, time.Now())
	require.NoError(t, err)

	guard, err := NewReplayGuard(0)
	require.NoError(t, err)
	v := NewTokenVerifier(time.Minute)
	v.Replay = guard

	_, err = v.Verify(tok, http.MethodPost, registerPath, registerBody)
	require.NoError(t, err)
	_, err = v.Verify(tok, http.MethodPost, registerPath, registerBody)
	assert.True(t, errors.Is(err, ErrReplayed))

	// A fresh token for the same request is fine.
	tok2, err := IssueToken(s, http.MethodPost, registerPath, registerBody, time.Minute, time.Now())
	require.NoError(t, err)
	_, err = v.Verify(tok2, http.MethodPost, registerPath, registerBody)
	assert.NoError(t, err)
}

func TestVerify_ReplayCheckedAfterSignature(t *testing.T) {
	s := newSigner(t)
	tok, err := IssueToken(s, http.MethodPost, registerPath, registerBody, time.Minute, time.Now())
	require.NoError(t, err)

	guard, err := NewReplayGuard(0)
	require.NoError(t, err)
	v := NewTokenVerifier(time.Minute)
	v.Replay = guard

	// A request the token is not bound to must not burn its ID.
	_, err = v.Verify(tok, http.MethodPost, "/v1/other", registerBody)
	require.Error(t, err)
	assert.Equal(t, 0, guard.Len())

	_, err = v.Verify(tok, http.MethodPost, registerPath, registerBody)
	assert.NoError(t, err)
}
