package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"chatClient/pkg/api"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialView(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// viewReader folds snapshot and patch frames into the current view document.
type viewReader struct {
	conn *websocket.Conn
	doc  []byte
}

func (v *viewReader) next(t *testing.T) []frame {
	t.Helper()
	require.NoError(t, v.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, message, err := v.conn.ReadMessage()
	require.NoError(t, err)

	var frames []frame
	for _, raw := range bytes.Split(message, newline) {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		switch f.Type {
		case FrameSnapshot:
			v.doc = f.View
		case FramePatch:
			require.NotNil(t, v.doc, "patch before snapshot")
			v.doc, err = jsonpatch.MergePatch(v.doc, f.Patch)
			require.NoError(t, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func (v *viewReader) until(t *testing.T, cond func(doc map[string]any) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v.next(t)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(v.doc, &doc))
		if cond(doc) {
			return
		}
	}
	t.Fatalf("view never reached the expected state: %s", v.doc)
}

func threadState(doc map[string]any) string {
	thread, _ := doc["thread"].(map[string]any)
	s, _ := thread["state"].(string)
	return s
}

func TestViewSocketSnapshotThenPatches(t *testing.T) {
	ts := newTestServer(t, nil)
	view := &viewReader{conn: dialView(t, ts)}

	frames := view.next(t)
	require.NotEmpty(t, frames)
	assert.Equal(t, FrameSnapshot, frames[0].Type)

	resp, _ := ts.do(t, http.MethodPut, "/chat/active", api.ConversationThread("1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view.until(t, func(doc map[string]any) bool { return threadState(doc) == "empty" })

	ts.backend.Post(api.ConversationThread("1"), alice, "are you still coming?")
	view.until(t, func(doc map[string]any) bool {
		thread, _ := doc["thread"].(map[string]any)
		messages, _ := thread["messages"].([]any)
		return threadState(doc) == "ready" && len(messages) == 1
	})
}

func TestViewSocketCommands(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := dialView(t, ts)
	view := &viewReader{conn: conn}
	view.next(t)

	require.NoError(t, conn.WriteJSON(command{Type: CommandSend, Text: "hello"}))
	frames := view.next(t)
	for len(frames) > 0 && frames[0].Type != FrameError {
		frames = view.next(t)
	}
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[0].Error, api.ErrNoActiveThread.Error())

	resp, _ := ts.do(t, http.MethodPut, "/chat/active", api.ConversationThread("1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, conn.WriteJSON(command{Type: CommandSend, Text: "hello"}))
	require.Eventually(t, func() bool {
		return len(ts.backend.Messages(api.ConversationThread("1"))) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
