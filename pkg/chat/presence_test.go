package chat

import (
	"context"
	"testing"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingExcludesSelfAndExpires(t *testing.T) {
	backend := newBackend(t)
	p := NewPresence(backend, backend, me, nopLogger())
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	backend.SetTypers(team, api.TypingUser{UserId: me, FullName: "Dana Volunteer"}, api.TypingUser{UserId: bob, FullName: "Bob"})
	require.NoError(t, p.RefreshTyping(context.Background(), team))
	assert.Equal(t, TypingView{Typing: true, Names: []string{"Bob"}}, p.Typing(team))

	now = now.Add(TypingExpiry)
	assert.Equal(t, TypingView{}, p.Typing(team))
}

func TestTypingOffWhenPollReportsNobody(t *testing.T) {
	backend := newBackend(t)
	p := NewPresence(backend, backend, me, nopLogger())
	ctx := context.Background()

	backend.SetTypers(direct, api.TypingUser{UserId: alice})
	require.NoError(t, p.RefreshTyping(ctx, direct))
	assert.Equal(t, []string{string(alice)}, p.Typing(direct).Names)

	backend.SetTypers(direct)
	require.NoError(t, p.RefreshTyping(ctx, direct))
	assert.False(t, p.Typing(direct).Typing)
}

func TestOnlySelfTypingStaysIdle(t *testing.T) {
	backend := newBackend(t)
	p := NewPresence(backend, backend, me, nopLogger())
	var changes int
	p.changes.Listen(func(Change) { changes++ })

	p.ApplyTyping(direct, []api.TypingUser{{UserId: me}})
	assert.False(t, p.Typing(direct).Typing)
	assert.Zero(t, changes)
}

func TestHeartbeatRunsImmediatelyAndSurvivesFailure(t *testing.T) {
	backend := newBackend(t)
	backend.Fail(chattest.OpHeartbeat, nil)
	p := NewPresence(backend, backend, me, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.RunHeartbeat(ctx, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return backend.Calls(chattest.OpHeartbeat) >= 1 }, waitFor, tick)
	backend.Heal(chattest.OpHeartbeat)
	require.Eventually(t, func() bool { return backend.Calls(chattest.OpHeartbeat) >= 3 }, waitFor, tick)

	cancel()
	<-done

	status, err := backend.GetStatus(context.Background(), me)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
}

func TestStatusRefresh(t *testing.T) {
	backend := newBackend(t)
	seen := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	backend.SetStatus(api.UserStatus{UserId: alice, LastSeen: &seen})
	p := NewPresence(backend, backend, me, nopLogger())

	require.NoError(t, p.RefreshStatus(context.Background(), alice))
	status, ok := p.Status(alice)
	require.True(t, ok)
	assert.False(t, status.IsOnline)
	assert.True(t, seen.Equal(*status.LastSeen))
}
