package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chatClient/pkg/api"

	"go.uber.org/zap"
)

const (
	// TypingDebounce is the keystroke inactivity after which typing stops.
	TypingDebounce = 3 * time.Second

	typingTimeout = 5 * time.Second
)

// Composer drafts and sends messages for the open thread. One send and one
// upload may be outstanding at a time.
type Composer struct {
	repo     api.ChatRepository
	timeline *Timeline
	userId   api.ID
	userName string
	debounce time.Duration
	log      *zap.Logger

	mu           sync.Mutex
	sending      bool
	uploading    bool
	typing       bool
	typingThread api.ThreadRef
	typingTimer  *time.Timer
}

func NewComposer(repo api.ChatRepository, timeline *Timeline, userId api.ID, userName string, logger *zap.Logger) *Composer {
	return &Composer{
		repo:     repo,
		timeline: timeline,
		userId:   userId,
		userName: userName,
		debounce: TypingDebounce,
		log:      logger,
	}
}

func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

func (c *Composer) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Send posts text to thread. Blank text and a send already in flight return
// ErrEmptyMessage and ErrSendInFlight without touching the timeline. A failed
// request leaves the message in the timeline flagged as failed.
func (c *Composer) Send(ctx context.Context, thread api.ThreadRef, text string) (api.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return api.Message{}, api.ErrEmptyMessage
	}
	msg, err := c.deliver(ctx, thread, api.Message{Content: text, MessageType: api.MessageText})
	c.StopTyping(ctx)
	return msg, err
}

// Retry replays the original request of a failed message in place.
func (c *Composer) Retry(ctx context.Context, thread api.ThreadRef, id api.ID) (api.Message, error) {
	if !c.begin() {
		return api.Message{}, api.ErrSendInFlight
	}
	defer c.end()

	pending, err := c.timeline.BeginRetry(thread, id)
	if err != nil {
		return api.Message{}, err
	}
	return c.post(ctx, thread, pending)
}

// UploadAttachment uploads content and then sends a message of the matching
// kind whose content is the file name.
func (c *Composer) UploadAttachment(ctx context.Context, thread api.ThreadRef, kind api.MessageType, fileName string, content io.Reader) (api.Message, error) {
	if !kind.IsAttachment() {
		return api.Message{}, fmt.Errorf("%w: %q", api.ErrUnsupportedAttachment, kind)
	}
	if thread.IsZero() {
		return api.Message{}, api.ErrNoActiveThread
	}

	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		return api.Message{}, api.ErrUploadInFlight
	}
	c.uploading = true
	c.mu.Unlock()

	upload, err := c.repo.Upload(ctx, kind, fileName, content)

	c.mu.Lock()
	c.uploading = false
	c.mu.Unlock()

	if err != nil {
		return api.Message{}, fmt.Errorf("uploading %s: %w", fileName, err)
	}

	return c.deliver(ctx, thread, api.Message{
		Content:     upload.FileName,
		MessageType: kind,
		FileUrl:     upload.FileUrl,
		FileName:    upload.FileName,
		FileSize:    upload.FileSize,
	})
}

func (c *Composer) deliver(ctx context.Context, thread api.ThreadRef, draft api.Message) (api.Message, error) {
	if thread.IsZero() {
		return api.Message{}, api.ErrNoActiveThread
	}
	if !c.begin() {
		return api.Message{}, api.ErrSendInFlight
	}
	defer c.end()

	draft.SenderId = c.userId
	draft.SenderName = c.userName
	pending, err := c.timeline.AppendOptimistic(thread, draft)
	if err != nil {
		return api.Message{}, err
	}
	return c.post(ctx, thread, pending)
}

func (c *Composer) post(ctx context.Context, thread api.ThreadRef, pending api.Message) (api.Message, error) {
	saved, err := c.repo.SendMessage(ctx, pending.Outgoing())
	if err != nil {
		if ferr := c.timeline.Fail(thread, pending.Id); ferr != nil {
			c.log.Debug("marking send failed", zap.Stringer("thread", thread), zap.Error(ferr))
		}
		pending.Sending = false
		pending.Failed = true
		return pending, fmt.Errorf("sending to %s: %w", thread, err)
	}

	if err := c.timeline.Confirm(thread, pending.Id, saved); err != nil {
		c.log.Debug("confirming send", zap.Stringer("thread", thread), zap.Error(err))
	}
	saved.Sending = false
	saved.Failed = false
	return saved, nil
}

func (c *Composer) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return false
	}
	c.sending = true
	return true
}

func (c *Composer) end() {
	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()
}

// Keystroke reports the current draft text. The first non-empty keystroke
// after idle broadcasts typing right away; later ones only push back the
// debounce that broadcasts the stop. Clearing the draft stops typing now.
func (c *Composer) Keystroke(ctx context.Context, thread api.ThreadRef, text string) error {
	if strings.TrimSpace(text) == "" {
		c.StopTyping(ctx)
		return nil
	}

	c.mu.Lock()
	if c.typing && c.typingThread != thread {
		c.stopTypingLocked()
		prev := c.typingThread
		go c.broadcast(context.Background(), prev, false)
	}
	start := !c.typing
	c.typing = true
	c.typingThread = thread
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.debounce, func() { c.expireTyping(thread) })
	c.mu.Unlock()

	if start {
		return c.broadcast(ctx, thread, true)
	}
	return nil
}

// StopTyping broadcasts the end of typing if it was announced.
func (c *Composer) StopTyping(ctx context.Context) {
	c.mu.Lock()
	if !c.typing {
		c.mu.Unlock()
		return
	}
	thread := c.typingThread
	c.stopTypingLocked()
	c.mu.Unlock()

	if err := c.broadcast(ctx, thread, false); err != nil {
		c.log.Debug("typing stop failed", zap.Stringer("thread", thread), zap.Error(err))
	}
}

func (c *Composer) expireTyping(thread api.ThreadRef) {
	c.mu.Lock()
	if !c.typing || c.typingThread != thread {
		c.mu.Unlock()
		return
	}
	c.stopTypingLocked()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	if err := c.broadcast(ctx, thread, false); err != nil {
		c.log.Debug("typing stop failed", zap.Stringer("thread", thread), zap.Error(err))
	}
}

func (c *Composer) stopTypingLocked() {
	c.typing = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

func (c *Composer) broadcast(ctx context.Context, thread api.ThreadRef, isTyping bool) error {
	if thread.IsZero() {
		return nil
	}
	if err := c.repo.SetTyping(ctx, thread, c.userId, isTyping); err != nil {
		return fmt.Errorf("broadcasting typing to %s: %w", thread, err)
	}
	return nil
}
