// Package notify delivers decision messages to users through a small
// fire-and-forget worker pool, so a slow outbound send never delays a poll
// cycle or a reservation attempt.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindAccepted    Kind = "accepted"
	KindNotAccepted Kind = "not_accepted"
	KindRejected    Kind = "rejected"
)

// Sender is the outbound channel collaborator. Implementations must tolerate
// arbitrarily long text by chunking (see Chunk).
type Sender interface {
	Send(ctx context.Context, userID string, kind Kind, text string, actionRef string) error
}

// MaxChunk is the largest message piece handed to a transport in one send.
const MaxChunk = 4096

// Chunk splits text into pieces of at most max bytes, preferring newline
// boundaries.
func Chunk(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}
	var out []string
	for len(text) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

type message struct {
	userID    string
	kind      Kind
	text      string
	actionRef string
}

// Pool fans messages out to workers through an unbounded internal queue, so
// Enqueue never blocks the caller even when every worker is stuck behind a
// slow transport. Delivery failures are logged, never raised.
type Pool struct {
	sender  Sender
	wg      sync.WaitGroup
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []message
	closed bool

	closeOnce sync.Once
}

func NewPool(sender Sender, workers, buffer int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		sender:  sender,
		log:     slog.With("component", "notify"),
		timeout: 10 * time.Second,
	}
	p.cond = sync.NewCond(&p.mu)
	if buffer > 0 {
		p.queue = make([]message, 0, buffer)
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		m := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.sender.Send(ctx, m.userID, m.kind, m.text, m.actionRef); err != nil {
			p.log.Warn("notification delivery failed",
				"user", m.userID, "kind", m.kind, "error", err)
		}
		cancel()
	}
}

// Enqueue submits a message for delivery. Best effort by design; messages
// enqueued after Close are dropped.
func (p *Pool) Enqueue(userID string, kind Kind, text, actionRef string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, message{userID: userID, kind: kind, text: text, actionRef: actionRef})
	p.mu.Unlock()
	p.cond.Signal()
}

// Close stops accepting messages and waits until the queue is drained and
// in-flight deliveries finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	p.wg.Wait()
}

// SlogSender writes notifications to the log; the default when no chat
// transport is configured.
type SlogSender struct{}

func (SlogSender) Send(_ context.Context, userID string, kind Kind, text string, actionRef string) error {
	for _, part := range Chunk(text, MaxChunk) {
		slog.Info("notification", "user", userID, "kind", kind, "text", part, "action_ref", actionRef)
	}
	return nil
}
