package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/store"
)

// DefaultQueueSize bounds how many turns can wait for persistence.
const DefaultQueueSize = 256

// Persister writes transcript records off the delivery path. One worker
// drains the queue, so records of a batch are appended in order. Store
// failures are logged and dropped.
type Persister struct {
	store store.Appender
	log   *slog.Logger
	queue chan []model.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPersister starts a Persister writing to s.
func NewPersister(s store.Appender, size int, log *slog.Logger) *Persister {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = observability.Logger()
	}
	p := &Persister{
		store: s,
		log:   log,
		queue: make(chan []model.Message, size),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue hands msgs to the worker without blocking. It reports false if
// the queue is full or the persister is closed; the batch is dropped.
func (p *Persister) Enqueue(msgs ...model.Message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("transcript persister closed, dropping messages", "count", len(msgs))
		return false
	}
	select {
	case p.queue <- msgs:
		return true
	default:
		p.log.Warn("transcript queue full, dropping messages", "count", len(msgs))
		return false
	}
}

// Close stops accepting work and waits for queued batches to be written.
func (p *Persister) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Persister) run() {
	defer close(p.done)
	ctx := context.Background()
	for batch := range p.queue {
		for _, m := range batch {
			if _, err := p.store.Append(ctx, m); err != nil {
				p.log.Error("persist transcript failed",
					"sender", m.Sender,
					"conversation", m.Conversation,
					"error", err)
			}
		}
	}
}
