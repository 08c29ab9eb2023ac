package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatClient/pkg/chat"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"
)

// Frame types written to view websockets. Several frames written together
// are separated by newlines.
const (
	FrameSnapshot = "snapshot"
	FramePatch    = "patch"
	FrameError    = "error"
)

type frame struct {
	Type  string          `json:"type"`
	View  json.RawMessage `json:"view,omitempty"`
	Patch json.RawMessage `json:"patch,omitempty"`
	Error string          `json:"error,omitempty"`
}

// viewDoc is everything a connected view renders.
type viewDoc struct {
	Thread chat.ThreadView `json:"thread"`
	List   chat.ListView   `json:"list"`
}

func errorFrame(err error) []byte {
	out, _ := json.Marshal(frame{Type: FrameError, Error: err.Error()})
	return out
}

type errUnknownCommand string

func (e errUnknownCommand) Error() string { return fmt.Sprintf("unknown command %q", string(e)) }

// Publisher turns session changes into RFC 7386 merge patches against the
// last view it published and broadcasts them through the hub.
type Publisher struct {
	session *chat.Session
	hub     *Hub
	log     *zap.Logger

	// Typing indicators expire without a change event, so the view is also
	// re-rendered on this period.
	refresh time.Duration

	wake chan struct{}

	mu   sync.Mutex
	last []byte
}

func NewPublisher(session *chat.Session, logger *zap.Logger) *Publisher {
	p := &Publisher{
		session: session,
		log:     logger,
		refresh: time.Second,
		wake:    make(chan struct{}, 1),
	}
	session.Listen(p.notify)
	return p
}

// Attach sets the hub patches are broadcast to.
func (p *Publisher) Attach(hub *Hub) { p.hub = hub }

func (p *Publisher) notify(chat.Change) {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) render() ([]byte, error) {
	return json.Marshal(viewDoc{Thread: p.session.ThreadView(), List: p.session.ListView()})
}

// Snapshot is the full view as last published. Merge patches are
// idempotent, so a client that also receives the patch that produced this
// view ends up in the same state.
func (p *Publisher) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		doc, err := p.render()
		if err != nil {
			return nil, err
		}
		p.last = doc
	}
	return json.Marshal(frame{Type: FrameSnapshot, View: p.last})
}

// Run publishes on every change until ctx ends.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
		if err := p.publish(); err != nil {
			p.log.Error("publishing view", zap.Error(err))
		}
	}
}

func (p *Publisher) publish() error {
	doc, err := p.render()
	if err != nil {
		return fmt.Errorf("rendering view: %w", err)
	}

	p.mu.Lock()
	prev := p.last
	p.last = doc
	p.mu.Unlock()

	if prev == nil {
		out, err := json.Marshal(frame{Type: FrameSnapshot, View: doc})
		if err != nil {
			return err
		}
		p.hub.Broadcast(out)
		return nil
	}

	patch, err := jsonpatch.CreateMergePatch(prev, doc)
	if err != nil {
		return fmt.Errorf("diffing view: %w", err)
	}
	if string(patch) == "{}" {
		return nil
	}
	out, err := json.Marshal(frame{Type: FramePatch, Patch: patch})
	if err != nil {
		return err
	}
	p.hub.Broadcast(out)
	return nil
}
