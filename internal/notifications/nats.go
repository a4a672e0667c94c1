package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/charlesng35/convene/pkg/logger"
)

const (
	defaultNATSSubject = "convene.notifications"
	defaultNATSQueue   = "convene-dispatcher"
	natsStreamName     = "CONVENE_NOTIFICATIONS"
)

// NATSConfig configures the NATS JetStream driver.
type NATSConfig struct {
	URL     string
	Subject string
	Queue   string
}

// NATSBus publishes domain events to a JetStream stream and consumes them through a durable
// consumer with explicit acknowledgement. The domain event ID is used as the JetStream message
// ID so duplicate publishes inside the stream's window are discarded.
type NATSBus struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	consume jetstream.ConsumeContext
	handler Handler
	log     *zap.Logger
}

// NewNATSBus connects, ensures the stream and durable consumer exist and starts consuming.
func NewNATSBus(cfg NATSConfig, handler Handler) (*NATSBus, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = defaultNATSSubject
	}
	durable := strings.TrimSpace(cfg.Queue)
	if durable == "" {
		durable = defaultNATSQueue
	}

	conn, err := nats.Connect(url, nats.Name("convene"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       natsStreamName,
		Subjects:   []string{subject + ".>"},
		Duplicates: 2 * time.Minute,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats stream: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natsStreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subject + ".>",
		MaxDeliver:    5,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats consumer: %w", err)
	}

	bus := &NATSBus{
		conn:    conn,
		js:      js,
		subject: subject,
		handler: handler,
		log:     logger.WithModule("notifications.nats"),
	}

	consumeCtx, err := cons.Consume(bus.handleMsg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	bus.consume = consumeCtx
	return bus, nil
}

// Publish sends the event on "<subject>.<type>".
func (b *NATSBus) Publish(ctx context.Context, event DomainEvent) error {
	if b == nil || b.conn == nil || b.conn.IsClosed() {
		return ErrBusClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}

	subject := b.subject + "." + strings.ToLower(string(event.Type))
	if _, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("nats: publish %s: %w", subject, err)
	}
	return nil
}

// Close stops consuming and drains the connection.
func (b *NATSBus) Close() error {
	if b == nil {
		return nil
	}
	if b.consume != nil {
		b.consume.Stop()
	}
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (b *NATSBus) handleMsg(msg jetstream.Msg) {
	var event DomainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		b.log.Warn("discarding malformed message", zap.String("subject", msg.Subject()), zap.Error(err))
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.handler.Handle(ctx, event); err != nil {
		b.log.Warn("handler failed, requesting redelivery",
			zap.String("domain_event_id", event.ID),
			zap.Error(err),
		)
		_ = msg.NakWithDelay(5 * time.Second)
		return
	}
	_ = msg.Ack()
}
