package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatClient/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStorage(t *testing.T, router http.Handler, conf ClientConfig) api.Storage {
	t.Helper()
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	conf.BaseURL = ts.URL
	if conf.Timeout == 0 {
		conf.Timeout = 5 * time.Second
	}
	client, err := NewClient(conf, zap.NewNop())
	require.NoError(t, err)
	return NewStorage(client)
}

func TestGetMessagesQuery(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/groups/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", chi.URLParam(r, "id"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "55", r.URL.Query().Get("before"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"messages":[{"id":41,"groupId":2,"senderId":"8","content":"hi","messageType":"text"}],"hasMore":true}`)
	})
	storage := newTestStorage(t, r, ClientConfig{Token: "s3cret"})

	page, err := storage.GetMessages(context.Background(), api.GroupThread("2"), api.PageQuery{Limit: 20, Before: "55"})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, api.ID("41"), page.Messages[0].Id)
	assert.Equal(t, api.GroupThread("2"), page.Messages[0].Thread())
	assert.True(t, page.HasMore)
}

func TestSendMessageRoutesByThread(t *testing.T) {
	var paths []string
	r := chi.NewRouter()
	handler := func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var out api.OutgoingMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		_ = json.NewEncoder(w).Encode(api.Message{Id: "900", Content: out.Content, GroupId: out.GroupId, ConversationId: out.ConversationId})
	}
	r.Post("/api/messages", handler)
	r.Post("/api/groups/{id}/messages", handler)
	storage := newTestStorage(t, r, ClientConfig{})
	ctx := context.Background()

	_, err := storage.SendMessage(ctx, api.OutgoingMessage{ConversationId: "1", Content: "a"})
	require.NoError(t, err)
	saved, err := storage.SendMessage(ctx, api.OutgoingMessage{GroupId: "2", Content: "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/messages", "/api/groups/2/messages"}, paths)
	assert.Equal(t, "b", saved.Content)
}

func TestUnpinUsesQueryParams(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/api/pinned/{userId}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", chi.URLParam(r, "userId"))
		assert.Equal(t, "2", r.URL.Query().Get("groupId"))
		assert.Empty(t, r.URL.Query().Get("conversationId"))
		w.WriteHeader(http.StatusNoContent)
	})
	storage := newTestStorage(t, r, ClientConfig{})

	err := storage.Unpin(context.Background(), api.NewThreadEntry("7", api.GroupThread("2")))
	require.NoError(t, err)
}

func TestUploadMultipart(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/chat/upload/{kind}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "image", chi.URLParam(r, "kind"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		_ = json.NewEncoder(w).Encode(api.Upload{FileUrl: "/files/" + header.Filename, FileSize: int64(len(body))})
	})
	storage := newTestStorage(t, r, ClientConfig{})

	upload, err := storage.Upload(context.Background(), api.MessageImage, "flyer.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/files/flyer.png", upload.FileUrl)
	assert.Equal(t, "flyer.png", upload.FileName)
	assert.Equal(t, int64(9), upload.FileSize)
}

func TestFailureClasses(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such group", http.StatusNotFound)
	})
	r.Get("/api/conversations/{userId}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"a list"`)
	})
	storage := newTestStorage(t, r, ClientConfig{})
	ctx := context.Background()

	_, err := storage.GetGroup(ctx, "404")
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "no such group", se.Body)
	assert.True(t, api.IsStatus(err, http.StatusNotFound))

	_, err = storage.GetConversations(ctx, "7")
	assert.ErrorIs(t, err, api.ErrMalformedPayload)
}

func TestTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	client, err := NewClient(ClientConfig{BaseURL: base, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	_, err = NewStorage(client).GetStatus(context.Background(), "8")
	assert.ErrorIs(t, err, api.ErrTransport)
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/volunteers/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	storage := newTestStorage(t, r, ClientConfig{BreakerMaxFailures: 2, BreakerTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := storage.Heartbeat(ctx, "7")
		assert.True(t, api.IsStatus(err, http.StatusServiceUnavailable))
	}
	err := storage.Heartbeat(ctx, "7")
	assert.ErrorIs(t, err, api.ErrTransport)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "localhost:5000"}, zap.NewNop())
	assert.Error(t, err)
}

func TestCancelledRequestsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/volunteers/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 5 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
		_ = json.NewEncoder(w).Encode(api.UserStatus{UserId: "8", IsOnline: true})
	})
	storage := newTestStorage(t, r, ClientConfig{BreakerMaxFailures: 2, BreakerTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		time.AfterFunc(20*time.Millisecond, cancel)
		_, err := storage.GetStatus(ctx, "8")
		assert.ErrorIs(t, err, api.ErrTransport)
		cancel()
	}

	status, err := storage.GetStatus(context.Background(), "8")
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
}
