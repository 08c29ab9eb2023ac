package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chatClient/pkg/api"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to read the next message or ping from the server.
	streamReadWait = 60 * time.Second

	// Maximum event size accepted from the server.
	maxEventSize = 64 << 10
)

// Stream subscribes to the portal's server-push channel for a thread and
// reconnects with exponential backoff until the subscription context ends.
type Stream struct {
	url        *url.URL
	token      string
	dialer     *websocket.Dialer
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewStream(rawURL string, token string, logger *zap.Logger) (*Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("stream url %q must use ws or wss", rawURL)
	}
	return &Stream{
		url:    u,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}, nil
}

func (s *Stream) Subscribe(ctx context.Context, thread api.ThreadRef) (<-chan api.ServerEvent, error) {
	if thread.IsZero() {
		return nil, api.ErrNoActiveThread
	}
	events := make(chan api.ServerEvent, 64)
	go s.run(ctx, thread, events)
	return events, nil
}

func (s *Stream) run(ctx context.Context, thread api.ThreadRef, events chan<- api.ServerEvent) {
	defer close(events)

	b := backoff.WithContext(s.newBackOff(), ctx)
	operation := func() error {
		connected, err := s.follow(ctx, thread, events)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if connected {
			b.Reset()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("event stream disconnected", zap.Stringer("thread", thread), zap.Error(err), zap.Duration("retryIn", wait))
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Info("event stream stopped", zap.Stringer("thread", thread), zap.Error(err))
	}
}

// follow reads one connection until it fails. connected reports whether the
// handshake succeeded, which resets the backoff.
func (s *Stream) follow(ctx context.Context, thread api.ThreadRef, events chan<- api.ServerEvent) (connected bool, err error) {
	u := *s.url
	q := u.Query()
	q.Set("kind", string(thread.Kind))
	q.Set("id", thread.Id.String())
	u.RawQuery = q.Encode()

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := s.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock ReadMessage when the subscription ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(maxEventSize)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))

		var event api.ServerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.log.Warn("dropping malformed stream event", zap.Error(err))
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
