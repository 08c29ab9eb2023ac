package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		UserId:   me,
		UserName: "Dana Volunteer",
		Intervals: Intervals{
			Messages: 10 * time.Millisecond,
			Typing:   10 * time.Millisecond,
			Status:   10 * time.Millisecond,
		},
		HeartbeatInterval: time.Hour,
		ListInterval:      time.Hour,
	}
}

func startSession(t *testing.T, backend *chattest.Backend, opts Options) *Session {
	t.Helper()
	s := NewSession(backend, opts, nopLogger())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestListViewStates(t *testing.T) {
	backend := newBackend(t)
	s := NewSession(backend, fastOptions(), nopLogger())
	assert.IsType(t, ListLoading{}, s.ListView())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	view, ok := s.ListView().(ListReady)
	require.True(t, ok)
	assert.Len(t, view.Threads, 2)
}

func TestOpenThreadViewStates(t *testing.T) {
	backend := newBackend(t)
	s := startSession(t, backend, fastOptions())
	ctx := context.Background()

	assert.Nil(t, s.ThreadView())

	require.NoError(t, s.Open(ctx, direct))
	_, empty := s.ThreadView().(ThreadEmpty)
	assert.True(t, empty)

	backend.Seed(team, alice, 3)
	require.NoError(t, s.Open(ctx, team))
	ready, ok := s.ThreadView().(ThreadReady)
	require.True(t, ok)
	assert.Len(t, ready.Messages, 3)
	require.NotNil(t, ready.Group)
	assert.Equal(t, "Food drive", ready.Group.Name)

	s.Close()
	assert.Nil(t, s.ThreadView())
}

func TestOpenFailureShowsError(t *testing.T) {
	backend := newBackend(t)
	s := startSession(t, backend, fastOptions())
	backend.Fail(chattest.OpGetMessages, nil)

	err := s.Open(context.Background(), direct)
	require.ErrorIs(t, err, api.ErrTransport)
	view, ok := s.ThreadView().(ThreadError)
	require.True(t, ok)
	assert.Equal(t, direct, view.Thread)
}

func TestPollingFeedPicksUpNewMessages(t *testing.T) {
	backend := newBackend(t)
	backend.Seed(direct, alice, 2)
	s := startSession(t, backend, fastOptions())
	require.NoError(t, s.Open(context.Background(), direct))

	backend.Post(direct, alice, "are you still coming?")
	require.Eventually(t, func() bool { return s.Timeline.Len() == 3 }, waitFor, tick)

	backend.SetTypers(direct, api.TypingUser{UserId: alice, FullName: "Alice"})
	require.Eventually(t, func() bool { return s.Presence.Typing(direct).Typing }, waitFor, tick)
}

func TestSwitchingThreadStopsPreviousFeed(t *testing.T) {
	backend := newBackend(t)
	stream := chattest.NewStream()
	opts := fastOptions()
	opts.Stream = stream
	s := startSession(t, backend, opts)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, direct))
	require.Eventually(t, func() bool { return stream.Subscribers(direct) == 1 }, waitFor, tick)

	require.NoError(t, s.Open(ctx, team))
	require.Eventually(t, func() bool {
		return stream.Subscribers(direct) == 0 && stream.Subscribers(team) == 1
	}, waitFor, tick)
	assert.Equal(t, team, s.Active())
}

func TestStreamFeedAppliesEvents(t *testing.T) {
	backend := newBackend(t)
	stream := chattest.NewStream()
	opts := fastOptions()
	opts.Stream = stream
	s := startSession(t, backend, opts)
	require.NoError(t, s.Open(context.Background(), team))
	require.Eventually(t, func() bool { return stream.Subscribers(team) == 1 }, waitFor, tick)

	incoming := msgs(team, "900")[0]
	stream.Push(team, api.ServerEvent{Type: api.EventMessage, Message: &incoming})
	stream.Push(team, api.ServerEvent{Type: api.EventTyping, Typing: []api.TypingUser{{UserId: bob, FullName: "Bob"}}})

	require.Eventually(t, func() bool { return s.Timeline.Len() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.Presence.Typing(team).Typing }, waitFor, tick)
	assert.Zero(t, backend.Calls(chattest.OpGetTyping))
}

func TestSendWithoutOpenThread(t *testing.T) {
	backend := newBackend(t)
	s := startSession(t, backend, fastOptions())

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, api.ErrNoActiveThread)
}

func TestListenReceivesTimelineChanges(t *testing.T) {
	backend := newBackend(t)
	s := startSession(t, backend, fastOptions())
	changes := make(chan Change, 32)
	s.Listen(func(c Change) {
		select {
		case changes <- c:
		default:
		}
	})

	require.NoError(t, s.Open(context.Background(), direct))
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	var timeline int
	for len(changes) > 0 {
		if c := <-changes; c.Kind == ChangeTimeline && c.Thread == direct {
			timeline++
		}
	}
	assert.GreaterOrEqual(t, timeline, 3)
}

func TestThreadViewJSONCarriesState(t *testing.T) {
	out, err := json.Marshal(ThreadLoading{Thread: direct})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"loading","thread":{"kind":"conversation","id":"1"}}`, string(out))

	out, err = json.Marshal(ListLoading{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"loading"}`, string(out))
}

func TestBrowsers(t *testing.T) {
	messages := []api.Message{
		{Id: "1", MessageType: api.MessageText, Content: "Sign up at https://example.org/shifts."},
		{Id: "2", MessageType: api.MessageImage, Content: "flyer.png", FileName: "flyer.png"},
		{Id: "3", MessageType: api.MessageFile, Content: "Roster.pdf", FileName: "Roster.pdf"},
		{Id: "4", MessageType: api.MessageText, Content: "the ROSTER is final"},
	}

	assert.Equal(t, []api.ID{"2"}, ids(Media(messages)))
	assert.Equal(t, []api.ID{"3"}, ids(Files(messages)))

	links := Links(messages)
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.org/shifts", links[0].URL)

	assert.Equal(t, []api.ID{"4", "3"}, ids(Search(messages, "roster")))
	assert.Empty(t, Search(messages, "   "))
}

func TestOpenAfterStopIsRejected(t *testing.T) {
	backend := newBackend(t)
	s := NewSession(backend, fastOptions(), nopLogger())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	assert.ErrorIs(t, s.Open(context.Background(), direct), ErrSessionStopped)
	assert.True(t, s.Active().IsZero())
}

func TestStopWhileOpening(t *testing.T) {
	backend := newBackend(t)
	s := NewSession(backend, fastOptions(), nopLogger())
	require.NoError(t, s.Start(context.Background()))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		thread := direct
		if i%2 == 1 {
			thread = team
		}
		go func() {
			defer wg.Done()
			_ = s.Open(ctx, thread)
		}()
	}
	s.Stop()
	wg.Wait()

	assert.ErrorIs(t, s.Open(ctx, direct), ErrSessionStopped)
}
