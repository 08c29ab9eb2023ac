package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatClient/pkg/api"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStreamReconnects(t *testing.T) {
	var connects atomic.Int32
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "group", r.URL.Query().Get("kind"))
		assert.Equal(t, "2", r.URL.Query().Get("id"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connects.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteJSON(api.ServerEvent{Type: api.EventMessage, Message: &api.Message{Id: api.ID(strings.Repeat("1", int(n))), GroupId: "2"}})
		// Drop the connection so the stream has to reconnect.
	}))
	defer ts.Close()

	stream, err := NewStream("ws"+strings.TrimPrefix(ts.URL, "http"), "", zap.NewNop())
	require.NoError(t, err)
	stream.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	events, err := stream.Subscribe(ctx, api.GroupThread("2"))
	require.NoError(t, err)

	var got []api.ID
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e.Message.Id)
		case <-time.After(3 * time.Second):
			t.Fatal("no event from stream")
		}
	}
	assert.Equal(t, []api.ID{"1", "11"}, got)

	cancel()
	for range events {
	}
}

func TestNewStreamNeedsWebsocketURL(t *testing.T) {
	_, err := NewStream("http://localhost:5000/ws", "", zap.NewNop())
	assert.Error(t, err)
}
