package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"chatClient/pkg/api"
	"chatClient/pkg/cache"

	"go.uber.org/zap"
)

// ErrSessionStopped is returned by Open once Stop has been called.
var ErrSessionStopped = errors.New("chat session stopped")

// ListInterval is how often the chat list is refetched in the background.
const ListInterval = 15 * time.Second

type Options struct {
	UserId   api.ID
	UserName string

	// Cache keeps the chat list across restarts. Optional.
	Cache cache.Cache

	// Stream switches the open thread from polling to server push. Optional.
	Stream api.EventStream

	Intervals         Intervals
	HeartbeatInterval time.Duration
	ListInterval      time.Duration
}

func (o *Options) defaults() {
	d := DefaultIntervals()
	if o.Intervals.Messages <= 0 {
		o.Intervals.Messages = d.Messages
	}
	if o.Intervals.Typing <= 0 {
		o.Intervals.Typing = d.Typing
	}
	if o.Intervals.Status <= 0 {
		o.Intervals.Status = d.Status
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = HeartbeatInterval
	}
	if o.ListInterval <= 0 {
		o.ListInterval = ListInterval
	}
}

// Session is the chat state of one signed-in user. It owns the open thread:
// opening another thread cancels everything running for the previous one.
type Session struct {
	Conversations *ConversationStore
	Timeline      *Timeline
	Composer      *Composer
	Presence      *Presence
	Groups        *GroupAdmin

	opts    Options
	feed    Feed
	changes *notifier
	log     *zap.Logger

	mu           sync.Mutex
	base         context.Context
	stop         context.CancelFunc
	active       api.ThreadRef
	counterpart  api.ID
	cancelThread context.CancelFunc
	threadErr    error
	wg           sync.WaitGroup
}

func NewSession(storage api.Storage, opts Options, logger *zap.Logger) *Session {
	opts.defaults()
	changes := &notifier{}

	timeline := NewTimeline(storage, opts.UserId, logger)
	timeline.changes = changes
	conversations := NewConversationStore(storage, storage, storage, opts.Cache, opts.UserId, logger)
	conversations.changes = changes
	presence := NewPresence(storage, storage, opts.UserId, logger)
	presence.changes = changes

	s := &Session{
		Conversations: conversations,
		Timeline:      timeline,
		Composer:      NewComposer(storage, timeline, opts.UserId, opts.UserName, logger),
		Presence:      presence,
		Groups:        NewGroupAdmin(storage, conversations, opts.UserId, logger),
		opts:          opts,
		changes:       changes,
		log:           logger,
		base:          context.Background(),
	}
	if opts.Stream != nil {
		s.feed = NewStreamFeed(opts.Stream, timeline, presence, logger)
	} else {
		s.feed = NewPollingFeed(timeline, presence, opts.Intervals, logger)
	}
	return s
}

func (s *Session) UserId() api.ID { return s.opts.UserId }

// Listen registers l for every change in the session's stores.
func (s *Session) Listen(l Listener) { s.changes.Listen(l) }

// Start shows the cached chat list, fetches the live one and keeps the
// heartbeat and list refresh running until Stop or ctx ends. A failed
// first fetch is returned but does not stop the background loops.
func (s *Session) Start(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	s.mu.Lock()
	s.base = runCtx
	s.stop = stop
	s.mu.Unlock()

	s.Conversations.Restore(runCtx)
	err := s.Conversations.RefreshAll(runCtx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Presence.RunHeartbeat(runCtx, s.opts.HeartbeatInterval)
	}()
	go func() {
		defer s.wg.Done()
		every(runCtx, s.opts.ListInterval, false, func(ctx context.Context) {
			_ = s.Conversations.RefreshAll(ctx)
		})
	}()
	return err
}

// Stop ends the open thread and every background loop and waits for them.
func (s *Session) Stop() {
	s.Close()
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) Active() api.ThreadRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Open makes thread the open thread, loads its latest page and starts its
// feed. Reopening the open thread reloads it.
func (s *Session) Open(ctx context.Context, thread api.ThreadRef) error {
	if thread.IsZero() {
		return api.ErrNoActiveThread
	}

	var counterpart api.ID
	if !thread.IsGroup() {
		if c, ok := s.Conversations.Conversation(thread.Id); ok {
			counterpart = c.OtherUserId
		}
	}

	s.Composer.StopTyping(ctx)

	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	prev := s.active
	if s.cancelThread != nil {
		s.cancelThread()
	}
	threadCtx, cancel := context.WithCancel(s.base)
	s.active = thread
	s.counterpart = counterpart
	s.cancelThread = cancel
	s.threadErr = nil
	s.Timeline.Open(thread)
	s.mu.Unlock()

	if !prev.IsZero() && prev != thread {
		s.Presence.Forget(prev)
	}
	s.changes.emit(ChangeTimeline, thread)

	// The load follows the caller but also stops if the thread is switched.
	loadCtx, stopLoad := context.WithCancel(threadCtx)
	defer stopLoad()
	unhook := context.AfterFunc(ctx, stopLoad)
	defer unhook()

	if err := s.Timeline.Load(loadCtx); err != nil {
		if errors.Is(err, api.ErrStaleThread) || threadCtx.Err() != nil {
			return api.ErrStaleThread
		}
		s.mu.Lock()
		if s.active == thread {
			s.threadErr = err
		}
		s.mu.Unlock()
		s.changes.emit(ChangeTimeline, thread)
		return err
	}

	s.Conversations.ClearUnread(thread)

	// Stop cancels base under mu before it waits, so no feed is added after.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.Err() != nil {
		return ErrSessionStopped
	}
	if s.active != thread || threadCtx.Err() != nil {
		return api.ErrStaleThread
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.feed.Run(threadCtx, thread, counterpart)
	}()
	return nil
}

// Close leaves the open thread, if any.
func (s *Session) Close() {
	s.Composer.StopTyping(context.Background())

	s.mu.Lock()
	prev := s.active
	if s.cancelThread != nil {
		s.cancelThread()
		s.cancelThread = nil
	}
	s.active = api.ThreadRef{}
	s.counterpart = ""
	s.threadErr = nil
	s.Timeline.Close()
	s.mu.Unlock()

	if !prev.IsZero() {
		s.Presence.Forget(prev)
		s.changes.emit(ChangeTimeline, prev)
	}
}

func (s *Session) requireActive() (api.ThreadRef, error) {
	thread := s.Active()
	if thread.IsZero() {
		return api.ThreadRef{}, api.ErrNoActiveThread
	}
	return thread, nil
}

func (s *Session) LoadEarlier(ctx context.Context) (int, error) {
	if _, err := s.requireActive(); err != nil {
		return 0, err
	}
	return s.Timeline.LoadMore(ctx)
}

func (s *Session) Send(ctx context.Context, text string) (api.Message, error) {
	thread, err := s.requireActive()
	if err != nil {
		return api.Message{}, err
	}
	return s.Composer.Send(ctx, thread, text)
}

func (s *Session) Retry(ctx context.Context, id api.ID) (api.Message, error) {
	thread, err := s.requireActive()
	if err != nil {
		return api.Message{}, err
	}
	return s.Composer.Retry(ctx, thread, id)
}

func (s *Session) Keystroke(ctx context.Context, text string) error {
	thread, err := s.requireActive()
	if err != nil {
		return err
	}
	return s.Composer.Keystroke(ctx, thread, text)
}

func (s *Session) Attach(ctx context.Context, kind api.MessageType, fileName string, content io.Reader) (api.Message, error) {
	thread, err := s.requireActive()
	if err != nil {
		return api.Message{}, err
	}
	return s.Composer.UploadAttachment(ctx, thread, kind, fileName, content)
}

// ThreadView is the current state of the open thread screen, or nil when
// no thread is open.
func (s *Session) ThreadView() ThreadView {
	s.mu.Lock()
	thread, counterpart, threadErr := s.active, s.counterpart, s.threadErr
	s.mu.Unlock()

	if thread.IsZero() {
		return nil
	}
	if threadErr != nil {
		return ThreadError{Thread: thread, Err: threadErr.Error()}
	}
	if !s.Timeline.Loaded() {
		return ThreadLoading{Thread: thread}
	}

	typing := s.Presence.Typing(thread)
	var status *api.UserStatus
	if counterpart != "" {
		if st, ok := s.Presence.Status(counterpart); ok {
			status = &st
		}
	}
	var group *api.GroupChat
	if thread.IsGroup() {
		if g, ok := s.Conversations.Group(thread.Id); ok {
			group = &g
		}
	}

	messages := s.Timeline.Messages()
	if len(messages) == 0 {
		return ThreadEmpty{Thread: thread, Typing: typing, Status: status, Group: group}
	}
	return ThreadReady{
		Thread:    thread,
		Messages:  messages,
		HasMore:   s.Timeline.HasMore(),
		Sending:   s.Composer.Sending(),
		Uploading: s.Composer.Uploading(),
		Typing:    typing,
		Status:    status,
		Group:     group,
	}
}

func (s *Session) ListView() ListView {
	if !s.Conversations.Ready() {
		return ListLoading{}
	}
	return ListReady{Threads: s.Conversations.Threads()}
}

func (s *Session) Media() []api.Message { return Media(s.Timeline.Messages()) }

func (s *Session) Files() []api.Message { return Files(s.Timeline.Messages()) }

func (s *Session) Links() []Link { return Links(s.Timeline.Messages()) }

func (s *Session) Search(query string) []api.Message {
	return Search(s.Timeline.Messages(), query)
}
