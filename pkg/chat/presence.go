package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatClient/pkg/api"

	"go.uber.org/zap"
)

const (
	HeartbeatInterval = 30 * time.Second
	StatusInterval    = 10 * time.Second
	TypingInterval    = 500 * time.Millisecond

	// TypingExpiry hides a remote typing indicator that has not been
	// reported again for this long.
	TypingExpiry = 3 * time.Second
)

// TypingView is what the thread header shows about other participants typing.
type TypingView struct {
	Typing bool     `json:"typing"`
	Names  []string `json:"names,omitempty"`
}

type typingReport struct {
	users []api.TypingUser
	at    time.Time
}

// Presence keeps the user's own heartbeat going and tracks who else is
// online or typing.
type Presence struct {
	presence api.PresenceRepository
	chats    api.ChatRepository
	userId   api.ID
	log      *zap.Logger
	now      func() time.Time

	changes *notifier

	mu     sync.RWMutex
	typing map[api.ThreadRef]typingReport
	status map[api.ID]api.UserStatus
}

func NewPresence(presence api.PresenceRepository, chats api.ChatRepository, userId api.ID, logger *zap.Logger) *Presence {
	return &Presence{
		presence: presence,
		chats:    chats,
		userId:   userId,
		log:      logger,
		now:      time.Now,
		changes:  &notifier{},
		typing:   make(map[api.ThreadRef]typingReport),
		status:   make(map[api.ID]api.UserStatus),
	}
}

func (p *Presence) Heartbeat(ctx context.Context) error {
	if err := p.presence.Heartbeat(ctx, p.userId); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// RunHeartbeat beats now and then every interval until ctx ends. Failed
// beats are logged and left for the next tick.
func (p *Presence) RunHeartbeat(ctx context.Context, interval time.Duration) {
	every(ctx, interval, true, func(ctx context.Context) {
		if err := p.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("heartbeat failed", zap.Error(err))
		}
	})
}

func (p *Presence) RefreshStatus(ctx context.Context, userId api.ID) error {
	status, err := p.presence.GetStatus(ctx, userId)
	if err != nil {
		return fmt.Errorf("fetching status of %s: %w", userId, err)
	}
	p.ApplyStatus(status)
	return nil
}

// WatchStatus polls the status of userId until ctx ends.
func (p *Presence) WatchStatus(ctx context.Context, userId api.ID, interval time.Duration) {
	every(ctx, interval, true, func(ctx context.Context) {
		if err := p.RefreshStatus(ctx, userId); err != nil && ctx.Err() == nil {
			p.log.Debug("status poll failed", zap.Stringer("user", userId), zap.Error(err))
		}
	})
}

func (p *Presence) ApplyStatus(status api.UserStatus) {
	if status.UserId == "" {
		return
	}
	p.mu.Lock()
	prev, known := p.status[status.UserId]
	p.status[status.UserId] = status
	p.mu.Unlock()

	if !known || prev.IsOnline != status.IsOnline || !sameTime(prev.LastSeen, status.LastSeen) {
		p.changes.emit(ChangeStatus, api.ThreadRef{})
	}
}

func (p *Presence) Status(userId api.ID) (api.UserStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.status[userId]
	return s, ok
}

func (p *Presence) RefreshTyping(ctx context.Context, thread api.ThreadRef) error {
	state, err := p.chats.GetTyping(ctx, thread, p.userId)
	if err != nil {
		return fmt.Errorf("fetching typing of %s: %w", thread, err)
	}
	p.ApplyTyping(thread, state.Users)
	return nil
}

// WatchTyping polls who is typing in thread until ctx ends.
func (p *Presence) WatchTyping(ctx context.Context, thread api.ThreadRef, interval time.Duration) {
	every(ctx, interval, true, func(ctx context.Context) {
		if err := p.RefreshTyping(ctx, thread); err != nil && ctx.Err() == nil {
			p.log.Debug("typing poll failed", zap.Stringer("thread", thread), zap.Error(err))
		}
	})
}

// ApplyTyping records the users reported typing in thread, leaving out the
// current user. An empty report switches the indicator off right away.
func (p *Presence) ApplyTyping(thread api.ThreadRef, users []api.TypingUser) {
	others := make([]api.TypingUser, 0, len(users))
	for _, u := range users {
		if u.UserId == p.userId {
			continue
		}
		others = append(others, u)
	}

	p.mu.Lock()
	prev, had := p.typing[thread]
	if len(others) == 0 {
		delete(p.typing, thread)
	} else {
		p.typing[thread] = typingReport{users: others, at: p.now()}
	}
	p.mu.Unlock()

	if had != (len(others) > 0) || (had && !sameTypers(prev.users, others)) {
		p.changes.emit(ChangeTyping, thread)
	}
}

// Typing is the indicator for thread as of now.
func (p *Presence) Typing(thread api.ThreadRef) TypingView {
	p.mu.RLock()
	report, ok := p.typing[thread]
	p.mu.RUnlock()
	if !ok || p.now().Sub(report.at) >= TypingExpiry {
		return TypingView{}
	}
	names := make([]string, 0, len(report.users))
	for _, u := range report.users {
		name := u.FullName
		if name == "" {
			name = u.UserId.String()
		}
		names = append(names, name)
	}
	return TypingView{Typing: true, Names: names}
}

// Forget drops the typing state of a thread that was closed.
func (p *Presence) Forget(thread api.ThreadRef) {
	p.mu.Lock()
	delete(p.typing, thread)
	p.mu.Unlock()
}

func sameTypers(a, b []api.TypingUser) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].UserId != b[i].UserId {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
