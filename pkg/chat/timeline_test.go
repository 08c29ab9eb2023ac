package chat

import (
	"context"
	"testing"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAppendsOnlyUnseenIds(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)

	added, err := tl.Merge(direct, msgs(direct, "1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = tl.Merge(direct, msgs(direct, "2", "3", "4"))
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []api.ID{"1", "2", "3", "4"}, ids(tl.Messages()))
}

func TestMergeRefreshesServerStateInPlace(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)
	_, err := tl.Merge(direct, msgs(direct, "1", "2"))
	require.NoError(t, err)

	read := msgs(direct, "1")
	read[0].IsRead = true
	read[0].Status = api.StatusRead
	_, err = tl.Merge(direct, read)
	require.NoError(t, err)

	got, ok := tl.Message("1")
	require.True(t, ok)
	assert.True(t, got.IsRead)
	assert.Equal(t, []api.ID{"1", "2"}, ids(tl.Messages()))
}

func TestLoadMoreNeverDuplicates(t *testing.T) {
	backend := newBackend(t)
	backend.Seed(direct, alice, 20)
	tl := NewTimeline(backend, me, nopLogger())
	tl.Open(direct)
	ctx := context.Background()

	require.NoError(t, tl.Load(ctx))
	assert.Equal(t, PageSize, tl.Len())
	assert.True(t, tl.HasMore())

	added, err := tl.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.False(t, tl.HasMore())

	added, err = tl.LoadMore(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)

	got := ids(tl.Messages())
	assert.Len(t, got, 20)
	seen := map[api.ID]bool{}
	for _, id := range got {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, ids(backend.Messages(direct)), got)
}

func TestLoadMoreSkipsIdsAlreadyHeld(t *testing.T) {
	backend := newBackend(t)
	backend.Seed(direct, alice, 20)
	tl := NewTimeline(backend, me, nopLogger())
	tl.Open(direct)
	ctx := context.Background()
	require.NoError(t, tl.Load(ctx))

	// An overlapping merge moves nothing and adds nothing.
	all := backend.Messages(direct)
	_, err := tl.Merge(direct, all[10:])
	require.NoError(t, err)

	_, err = tl.LoadMore(ctx)
	require.NoError(t, err)
	_, err = tl.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(all), ids(tl.Messages()))
}

func TestConfirmReplacesPendingInPlace(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)
	_, err := tl.Merge(direct, msgs(direct, "1", "2"))
	require.NoError(t, err)

	pending, err := tl.AppendOptimistic(direct, api.Message{SenderId: me, Content: "on my way", MessageType: api.MessageText})
	require.NoError(t, err)
	assert.True(t, IsTempId(pending.Id))
	assert.True(t, pending.Sending)

	_, err = tl.Merge(direct, msgs(direct, "3"))
	require.NoError(t, err)

	saved := msgs(direct, "4")[0]
	saved.SenderId = me
	require.NoError(t, tl.Confirm(direct, pending.Id, saved))

	assert.Equal(t, []api.ID{"1", "2", "4", "3"}, ids(tl.Messages()))
	got, _ := tl.Message("4")
	assert.False(t, got.Sending)
	assert.False(t, got.Failed)
}

func TestConfirmAfterPollDeliveredDropsPending(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)
	_, err := tl.Merge(direct, msgs(direct, "1"))
	require.NoError(t, err)
	pending, err := tl.AppendOptimistic(direct, api.Message{SenderId: me, Content: "hi", MessageType: api.MessageText})
	require.NoError(t, err)

	_, err = tl.Merge(direct, msgs(direct, "5"))
	require.NoError(t, err)
	require.NoError(t, tl.Confirm(direct, pending.Id, msgs(direct, "5")[0]))

	assert.Equal(t, []api.ID{"1", "5"}, ids(tl.Messages()))
}

func TestFailKeepsMessageVisible(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)
	pending, err := tl.AppendOptimistic(direct, api.Message{SenderId: me, Content: "hi", MessageType: api.MessageText})
	require.NoError(t, err)

	require.NoError(t, tl.Fail(direct, pending.Id))
	got, ok := tl.Message(pending.Id)
	require.True(t, ok)
	assert.True(t, got.Failed)
	assert.False(t, got.Sending)

	_, err = tl.BeginRetry(direct, pending.Id)
	require.NoError(t, err)
	_, err = tl.BeginRetry(direct, pending.Id)
	assert.ErrorIs(t, err, api.ErrNotFailed)
}

func TestStaleThreadResultsAreIgnored(t *testing.T) {
	tl := NewTimeline(chattest.NewBackend(), me, nopLogger())
	tl.Open(direct)

	_, err := tl.Merge(team, msgs(team, "1"))
	assert.ErrorIs(t, err, api.ErrStaleThread)
	_, err = tl.AppendOptimistic(team, api.Message{Content: "x"})
	assert.ErrorIs(t, err, api.ErrStaleThread)
	assert.Zero(t, tl.Len())
}

func TestPollFailureKeepsMessages(t *testing.T) {
	backend := newBackend(t)
	backend.Seed(direct, alice, 3)
	tl := NewTimeline(backend, me, nopLogger())
	tl.Open(direct)
	ctx := context.Background()
	require.NoError(t, tl.Load(ctx))

	backend.Fail(chattest.OpGetMessages, nil)
	err := tl.Poll(ctx)
	require.ErrorIs(t, err, api.ErrTransport)
	assert.Equal(t, 3, tl.Len())
}

func TestLoadMarksDeliveredAndRead(t *testing.T) {
	backend := newBackend(t)
	backend.Seed(direct, alice, 2)
	tl := NewTimeline(backend, me, nopLogger())
	tl.Open(direct)
	require.NoError(t, tl.Load(context.Background()))

	require.Eventually(t, func() bool {
		return backend.Calls(chattest.OpMarkDelivered) == 1 && backend.Calls(chattest.OpMarkRead) == 1
	}, waitFor, tick)
}
