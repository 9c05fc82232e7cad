package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTripTokenSession(t *testing.T) {
	clock := newFakeClock()
	orig, err := New(Info{AccountID: "ACC1", ClientID: "C1", APIVersion: 2}, &SecurityTokens{CST: "c", SecurityToken: "x"}, WithClock(clock.Now))
	require.NoError(t, err)

	data, err := json.Marshal(orig.Snapshot())
	require.NoError(t, err)

	clock.Advance(time.Hour)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored, err := Restore(snap, WithClock(clock.Now))
	require.NoError(t, err)

	assert.True(t, restored.IsTokenAuth())
	assert.Equal(t, "ACC1", restored.AccountID())
	assert.True(t, orig.IssuedAt().Equal(restored.IssuedAt()))
	assert.True(t, orig.ExpiresAt().Equal(restored.ExpiresAt()))

	tokens, ok := restored.SecurityTokens()
	require.True(t, ok)
	assert.Equal(t, "c", tokens.CST)
}

func TestSnapshot_StaleRestoresExpired(t *testing.T) {
	clock := newFakeClock()
	orig := newOAuthSession(t, clock, 60)
	snap := orig.Snapshot()

	clock.Advance(2 * time.Minute)
	restored, err := Restore(snap, WithClock(clock.Now))
	require.NoError(t, err)

	assert.True(t, restored.IsOAuth())
	assert.True(t, restored.IsExpired())
}

func TestSnapshot_RestoreRejectsBadInput(t *testing.T) {
	_, err := Restore(Snapshot{Scheme: "kerberos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scheme "kerberos"`)

	_, err = Restore(Snapshot{Scheme: SchemeOAuth})
	assert.Error(t, err)

	_, err = Restore(Snapshot{Scheme: SchemeSecurityToken, CST: "c"})
	assert.Error(t, err)
}
