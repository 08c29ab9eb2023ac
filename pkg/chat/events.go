package chat

import (
	"context"
	"sync"
	"time"

	"chatClient/pkg/api"
)

// Change kinds emitted to listeners.
const (
	ChangeThreads  = "threads"
	ChangeTimeline = "timeline"
	ChangeTyping   = "typing"
	ChangeStatus   = "status"
	ChangeGroup    = "group"
)

type Change struct {
	Kind   string        `json:"kind"`
	Thread api.ThreadRef `json:"thread"`
}

type Listener func(Change)

// notifier fans changes out to listeners. Listeners run on the caller's
// goroutine and must not block.
type notifier struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (n *notifier) Listen(l Listener) {
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
}

func (n *notifier) emit(kind string, thread api.ThreadRef) {
	if n == nil {
		return
	}
	n.mu.RLock()
	listeners := n.listeners
	n.mu.RUnlock()
	for _, l := range listeners {
		l(Change{Kind: kind, Thread: thread})
	}
}

// every runs fn each interval until ctx is done. When immediate is set fn
// also runs once before the first tick.
func every(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context)) {
	if immediate {
		fn(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
