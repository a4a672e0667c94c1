package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/convene/pkg/logger"
)

// MemoryBus queues events in process and drains them on a single worker goroutine. The queue
// is unbounded so Publish never blocks on a slow handler.
type MemoryBus struct {
	handler Handler
	timeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []DomainEvent
	busy    bool
	closed  bool
	stopped chan struct{}
	log     *zap.Logger
}

// NewMemoryBus starts a MemoryBus worker.
func NewMemoryBus(handler Handler) *MemoryBus {
	b := &MemoryBus{
		handler: handler,
		timeout: 30 * time.Second,
		stopped: make(chan struct{}),
		log:     logger.WithModule("notifications.memory"),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Publish enqueues the event and returns immediately.
func (b *MemoryBus) Publish(_ context.Context, event DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.queue = append(b.queue, event)
	b.cond.Broadcast()
	return nil
}

// Flush blocks until every queued event has been handled or ctx is done. Cancellation wakes
// the waiter, so nothing is left blocked behind a slow handler.
func (b *MemoryBus) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) > 0 || b.busy {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return nil
}

// Close stops accepting events, drains what is queued and waits for the worker to exit.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.stopped
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.stopped
	return nil
}

func (b *MemoryBus) run() {
	defer close(b.stopped)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue[0] = DomainEvent{}
		b.queue = b.queue[1:]
		b.busy = true
		b.mu.Unlock()

		b.handle(event)

		b.mu.Lock()
		b.busy = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

func (b *MemoryBus) handle(event DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("notification handler panicked",
				zap.String("domain_event_id", event.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := b.handler.Handle(ctx, event); err != nil {
		b.log.Warn("notification handler failed",
			zap.String("domain_event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}
