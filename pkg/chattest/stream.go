package chattest

import (
	"context"
	"sync"

	"chatClient/pkg/api"
)

// Stream is an api.EventStream fed by Push.
type Stream struct {
	mu   sync.Mutex
	subs map[api.ThreadRef][]chan api.ServerEvent
}

func NewStream() *Stream {
	return &Stream{subs: make(map[api.ThreadRef][]chan api.ServerEvent)}
}

var _ api.EventStream = (*Stream)(nil)

func (s *Stream) Subscribe(ctx context.Context, thread api.ThreadRef) (<-chan api.ServerEvent, error) {
	if thread.IsZero() {
		return nil, api.ErrNoActiveThread
	}
	ch := make(chan api.ServerEvent, 16)
	s.mu.Lock()
	s.subs[thread] = append(s.subs[thread], ch)
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[thread]
		for i, c := range subs {
			if c == ch {
				s.subs[thread] = append(subs[:i:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	})
	return ch, nil
}

// Subscribers reports how many live subscriptions thread has.
func (s *Stream) Subscribers(thread api.ThreadRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[thread])
}

// Push delivers event to every subscriber of thread.
func (s *Stream) Push(thread api.ThreadRef, event api.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[thread] {
		ch <- event
	}
}
