package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatClient/pkg/api"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PageSize is how many messages one history request asks for.
	PageSize = 15

	tempIdPrefix = "temp-"

	ackTimeout = 10 * time.Second
)

// IsTempId reports whether id was generated locally for an unconfirmed message.
func IsTempId(id api.ID) bool {
	return strings.HasPrefix(string(id), tempIdPrefix)
}

// Timeline holds the ordered messages of the open thread. Messages are keyed
// by id and order is kept as a separate id slice so merges never rescan the
// message bodies.
type Timeline struct {
	repo     api.ChatRepository
	userId   api.ID
	pageSize int
	log      *zap.Logger
	changes  *notifier

	mu      sync.RWMutex
	thread  api.ThreadRef
	order   []api.ID
	byId    map[api.ID]api.Message
	hasMore bool
	cursor  api.ID
	loaded  bool
}

func NewTimeline(repo api.ChatRepository, userId api.ID, logger *zap.Logger) *Timeline {
	return &Timeline{
		repo:     repo,
		userId:   userId,
		pageSize: PageSize,
		log:      logger,
		changes:  &notifier{},
		byId:     make(map[api.ID]api.Message),
	}
}

// Open resets the timeline for thread. Anything fetched for a previous
// thread that lands afterwards is discarded.
func (t *Timeline) Open(thread api.ThreadRef) {
	t.mu.Lock()
	t.thread = thread
	t.order = nil
	t.byId = make(map[api.ID]api.Message)
	t.hasMore = false
	t.cursor = ""
	t.loaded = false
	t.mu.Unlock()
}

func (t *Timeline) Close() { t.Open(api.ThreadRef{}) }

func (t *Timeline) Thread() api.ThreadRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thread
}

func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

func (t *Timeline) HasMore() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasMore
}

// Cursor is the oldest server id held, used as the "before" bound of LoadMore.
func (t *Timeline) Cursor() api.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cursor
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Messages returns a copy of the timeline in display order.
func (t *Timeline) Messages() []api.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]api.Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byId[id])
	}
	return out
}

func (t *Timeline) Message(id api.ID) (api.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byId[id]
	return m, ok
}

// Load fetches the latest page and replaces the timeline with it.
func (t *Timeline) Load(ctx context.Context) error {
	thread := t.Thread()
	if thread.IsZero() {
		return api.ErrNoActiveThread
	}

	page, err := t.repo.GetMessages(ctx, thread, api.PageQuery{Limit: t.pageSize, UserId: t.userId})
	if err != nil {
		return fmt.Errorf("loading %s: %w", thread, err)
	}

	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return api.ErrStaleThread
	}
	t.order = make([]api.ID, 0, len(page.Messages))
	t.byId = make(map[api.ID]api.Message, len(page.Messages))
	for _, m := range page.Messages {
		if _, dup := t.byId[m.Id]; dup {
			continue
		}
		t.byId[m.Id] = m
		t.order = append(t.order, m.Id)
	}
	t.cursor = ""
	if len(page.Messages) > 0 {
		t.cursor = page.Messages[0].Id
	}
	t.hasMore = page.HasMore
	t.loaded = true
	t.mu.Unlock()

	t.acknowledge(thread)
	t.changes.emit(ChangeTimeline, thread)
	return nil
}

// LoadMore fetches the page older than the cursor and prepends the ids not
// already held. It returns how many messages were prepended so a view can
// keep its scroll offset.
func (t *Timeline) LoadMore(ctx context.Context) (int, error) {
	t.mu.RLock()
	thread, cursor, hasMore := t.thread, t.cursor, t.hasMore
	t.mu.RUnlock()

	if thread.IsZero() {
		return 0, api.ErrNoActiveThread
	}
	if !hasMore || cursor == "" {
		return 0, nil
	}

	page, err := t.repo.GetMessages(ctx, thread, api.PageQuery{Limit: t.pageSize, Before: cursor, UserId: t.userId})
	if err != nil {
		return 0, fmt.Errorf("loading earlier messages of %s: %w", thread, err)
	}

	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return 0, api.ErrStaleThread
	}
	fresh := make([]api.ID, 0, len(page.Messages))
	for _, m := range page.Messages {
		if _, held := t.byId[m.Id]; held {
			continue
		}
		t.byId[m.Id] = m
		fresh = append(fresh, m.Id)
	}
	t.order = append(fresh, t.order...)
	if len(page.Messages) > 0 {
		t.cursor = page.Messages[0].Id
	}
	t.hasMore = page.HasMore
	t.mu.Unlock()

	t.acknowledge(thread)
	if len(fresh) > 0 {
		t.changes.emit(ChangeTimeline, thread)
	}
	return len(fresh), nil
}

// Poll fetches the latest page and merges it into the timeline.
func (t *Timeline) Poll(ctx context.Context) error {
	thread := t.Thread()
	if thread.IsZero() {
		return nil
	}
	page, err := t.repo.GetMessages(ctx, thread, api.PageQuery{Limit: t.pageSize, UserId: t.userId})
	if err != nil {
		return fmt.Errorf("polling %s: %w", thread, err)
	}
	if _, err := t.Merge(thread, page.Messages); err != nil {
		return err
	}
	t.acknowledge(thread)
	return nil
}

// Merge reconciles server messages into the timeline: held ids keep their
// position and pick up fresh server state, unseen ids are appended in the
// order given. Locally pending messages are never touched.
func (t *Timeline) Merge(thread api.ThreadRef, messages []api.Message) (int, error) {
	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return 0, api.ErrStaleThread
	}
	added, changed := 0, false
	for _, m := range messages {
		if held, ok := t.byId[m.Id]; ok {
			if held.Sending || held.Failed || sameServerState(held, m) {
				continue
			}
			t.byId[m.Id] = m
			changed = true
			continue
		}
		t.byId[m.Id] = m
		t.order = append(t.order, m.Id)
		added++
	}
	if t.cursor == "" {
		for _, id := range t.order {
			if !IsTempId(id) {
				t.cursor = id
				break
			}
		}
	}
	t.mu.Unlock()

	if added > 0 || changed {
		t.changes.emit(ChangeTimeline, thread)
	}
	return added, nil
}

// AppendOptimistic adds draft at the end under a temporary id, flagged as sending.
func (t *Timeline) AppendOptimistic(thread api.ThreadRef, draft api.Message) (api.Message, error) {
	draft.Id = api.ID(tempIdPrefix + uuid.NewString())
	draft.Sending = true
	draft.Failed = false
	draft.ConversationId, draft.GroupId = "", ""
	if thread.IsGroup() {
		draft.GroupId = thread.Id
	} else {
		draft.ConversationId = thread.Id
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return api.Message{}, api.ErrStaleThread
	}
	t.byId[draft.Id] = draft
	t.order = append(t.order, draft.Id)
	t.mu.Unlock()

	t.changes.emit(ChangeTimeline, thread)
	return draft, nil
}

// Confirm swaps the pending entry id for the server record, in place. When a
// poll already delivered the record the pending entry is dropped instead.
func (t *Timeline) Confirm(thread api.ThreadRef, id api.ID, saved api.Message) error {
	saved.Sending = false
	saved.Failed = false

	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return api.ErrStaleThread
	}
	idx := t.indexOf(id)
	if idx < 0 {
		t.mu.Unlock()
		return api.ErrUnknownMessage
	}
	delete(t.byId, id)
	if _, delivered := t.byId[saved.Id]; delivered && saved.Id != id {
		t.order = append(t.order[:idx], t.order[idx+1:]...)
	} else {
		t.order[idx] = saved.Id
	}
	t.byId[saved.Id] = saved
	if t.cursor == "" {
		t.cursor = saved.Id
	}
	t.mu.Unlock()

	t.changes.emit(ChangeTimeline, thread)
	return nil
}

// Fail marks a pending message as failed and leaves it where it is.
func (t *Timeline) Fail(thread api.ThreadRef, id api.ID) error {
	return t.update(thread, id, func(m *api.Message) error {
		m.Sending = false
		m.Failed = true
		return nil
	})
}

// BeginRetry flips a failed message back to sending and returns it.
func (t *Timeline) BeginRetry(thread api.ThreadRef, id api.ID) (api.Message, error) {
	var out api.Message
	err := t.update(thread, id, func(m *api.Message) error {
		if !m.Failed {
			return api.ErrNotFailed
		}
		m.Failed = false
		m.Sending = true
		out = *m
		return nil
	})
	return out, err
}

func (t *Timeline) update(thread api.ThreadRef, id api.ID, fn func(*api.Message) error) error {
	t.mu.Lock()
	if t.thread != thread {
		t.mu.Unlock()
		return api.ErrStaleThread
	}
	m, ok := t.byId[id]
	if !ok {
		t.mu.Unlock()
		return api.ErrUnknownMessage
	}
	if err := fn(&m); err != nil {
		t.mu.Unlock()
		return err
	}
	t.byId[id] = m
	t.mu.Unlock()

	t.changes.emit(ChangeTimeline, thread)
	return nil
}

// sameServerState compares the fields a poll can change on a held message.
func sameServerState(a, b api.Message) bool {
	return a.IsRead == b.IsRead &&
		a.Status == b.Status &&
		a.Content == b.Content &&
		(a.DeliveredAt == nil) == (b.DeliveredAt == nil)
}

func (t *Timeline) indexOf(id api.ID) int {
	for i, held := range t.order {
		if held == id {
			return i
		}
	}
	return -1
}

// acknowledge reports delivery and read for thread without waiting on either.
func (t *Timeline) acknowledge(thread api.ThreadRef) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		if err := t.repo.MarkDelivered(ctx, thread, t.userId); err != nil {
			t.log.Debug("mark delivered failed", zap.Stringer("thread", thread), zap.Error(err))
		}
		if err := t.repo.MarkRead(ctx, thread, t.userId); err != nil {
			t.log.Debug("mark read failed", zap.Stringer("thread", thread), zap.Error(err))
		}
	}()
}
