package chat

import (
	"context"
	"sync"
	"time"

	"chatClient/pkg/api"

	"go.uber.org/zap"
)

// Feed keeps the open thread up to date until ctx ends. counterpart is the
// other participant of a one-to-one thread and empty for groups.
type Feed interface {
	Run(ctx context.Context, thread api.ThreadRef, counterpart api.ID)
}

type Intervals struct {
	Messages time.Duration
	Typing   time.Duration
	Status   time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		Messages: 3 * time.Second,
		Typing:   TypingInterval,
		Status:   StatusInterval,
	}
}

// PollingFeed polls messages, typing and the counterpart's status on
// fixed intervals.
type PollingFeed struct {
	timeline  *Timeline
	presence  *Presence
	intervals Intervals
	log       *zap.Logger
}

func NewPollingFeed(timeline *Timeline, presence *Presence, intervals Intervals, logger *zap.Logger) *PollingFeed {
	return &PollingFeed{timeline: timeline, presence: presence, intervals: intervals, log: logger}
}

func (f *PollingFeed) Run(ctx context.Context, thread api.ThreadRef, counterpart api.ID) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		every(ctx, f.intervals.Messages, false, func(ctx context.Context) {
			if err := f.timeline.Poll(ctx); err != nil && ctx.Err() == nil {
				f.log.Debug("message poll failed", zap.Stringer("thread", thread), zap.Error(err))
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.presence.WatchTyping(ctx, thread, f.intervals.Typing)
	}()

	if !thread.IsGroup() && counterpart != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.presence.WatchStatus(ctx, counterpart, f.intervals.Status)
		}()
	}

	wg.Wait()
}

// StreamFeed applies events pushed by the server. The subscription
// reconnects by itself; Run returns once ctx ends and the stream closes.
type StreamFeed struct {
	stream   api.EventStream
	timeline *Timeline
	presence *Presence
	log      *zap.Logger
}

func NewStreamFeed(stream api.EventStream, timeline *Timeline, presence *Presence, logger *zap.Logger) *StreamFeed {
	return &StreamFeed{stream: stream, timeline: timeline, presence: presence, log: logger}
}

func (f *StreamFeed) Run(ctx context.Context, thread api.ThreadRef, counterpart api.ID) {
	if counterpart != "" {
		if err := f.presence.RefreshStatus(ctx, counterpart); err != nil && ctx.Err() == nil {
			f.log.Debug("status fetch failed", zap.Stringer("user", counterpart), zap.Error(err))
		}
	}

	events, err := f.stream.Subscribe(ctx, thread)
	if err != nil {
		f.log.Warn("subscribing to thread events", zap.Stringer("thread", thread), zap.Error(err))
		return
	}
	for event := range events {
		f.apply(thread, event)
	}
}

func (f *StreamFeed) apply(thread api.ThreadRef, event api.ServerEvent) {
	switch event.Type {
	case api.EventMessage:
		if event.Message == nil || event.Message.Thread() != thread {
			return
		}
		added, err := f.timeline.Merge(thread, []api.Message{*event.Message})
		if err != nil {
			return
		}
		if added > 0 && event.Message.SenderId != f.timeline.userId {
			f.timeline.acknowledge(thread)
		}
	case api.EventTyping:
		f.presence.ApplyTyping(thread, event.Typing)
	case api.EventStatus:
		if event.Status != nil {
			f.presence.ApplyStatus(*event.Status)
		}
	default:
		f.log.Debug("ignoring stream event", zap.String("type", event.Type))
	}
}
