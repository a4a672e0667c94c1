package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrBusClosed is returned when publishing to a bus that has been shut down.
var ErrBusClosed = errors.New("notifications: bus closed")

// Handler consumes domain events.
type Handler interface {
	Handle(ctx context.Context, event DomainEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event DomainEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// Bus carries domain events from producers to the dispatcher. Publish must not block on
// consumers for the asynchronous drivers.
type Bus interface {
	Publish(ctx context.Context, event DomainEvent) error
	Close() error
}

// Driver names accepted by NewBus.
const (
	DriverInline   = "inline"
	DriverMemory   = "memory"
	DriverRabbitMQ = "rabbitmq"
	DriverNATS     = "nats"
)

// BusConfig selects and configures a bus driver.
type BusConfig struct {
	Driver   string
	URL      string
	Exchange string
	Queue    string
	Subject  string
}

// NewBus constructs the configured bus. For broker-backed drivers the handler is attached as a
// consumer on the same connection so a single process both publishes and records.
func NewBus(ctx context.Context, cfg BusConfig, handler Handler) (Bus, error) {
	if handler == nil {
		return nil, errors.New("notifications: handler is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryBus(handler), nil
	case DriverInline:
		return NewInlineBus(handler), nil
	case DriverRabbitMQ:
		return NewAMQPBus(ctx, AMQPConfig{URL: cfg.URL, Exchange: cfg.Exchange, Queue: cfg.Queue}, handler)
	case DriverNATS:
		return NewNATSBus(NATSConfig{URL: cfg.URL, Subject: cfg.Subject, Queue: cfg.Queue}, handler)
	default:
		return nil, fmt.Errorf("notifications: unsupported bus driver %q", cfg.Driver)
	}
}

// InlineBus hands events to the handler synchronously. It suits tests and single-process
// deployments that prefer simplicity over decoupling.
type InlineBus struct {
	handler Handler
}

// NewInlineBus constructs an InlineBus.
func NewInlineBus(handler Handler) *InlineBus {
	return &InlineBus{handler: handler}
}

// Publish invokes the handler directly.
func (b *InlineBus) Publish(ctx context.Context, event DomainEvent) error {
	if b == nil || b.handler == nil {
		return ErrBusClosed
	}
	return b.handler.Handle(ctx, event)
}

// Close is a no-op.
func (b *InlineBus) Close() error { return nil }

// CaptureBus captures published events instead of delivering them; it is useful in tests.
type CaptureBus struct {
	mu     sync.Mutex
	events []DomainEvent
}

// Publish appends the event.
func (r *CaptureBus) Publish(_ context.Context, event DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close is a no-op.
func (r *CaptureBus) Close() error { return nil }

// Events returns the captured events in publish order.
func (r *CaptureBus) Events() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns captured events of the given type.
func (r *CaptureBus) OfType(typ string) []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DomainEvent
	for _, event := range r.events {
		if string(event.Type) == typ {
			out = append(out, event)
		}
	}
	return out
}

// Reset clears the captured events.
func (r *CaptureBus) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
