package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/charlesng35/convene/pkg/logger"
)

const (
	defaultAMQPExchange = "convene.events"
	defaultAMQPQueue    = "convene.notifications"
	amqpBindingKey      = "notification.#"
)

// AMQPConfig configures the RabbitMQ driver.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// AMQPBus publishes domain events to a durable topic exchange and consumes them from a bound
// queue with manual acknowledgement. Deliveries that fail are requeued; the dispatcher's
// dedupe keys make redelivery safe.
type AMQPBus struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	subCh    *amqp.Channel
	exchange string
	queue    string
	handler  Handler
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAMQPBus dials the broker, declares the topology and starts consuming.
func NewAMQPBus(ctx context.Context, cfg AMQPConfig, handler Handler) (*AMQPBus, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = defaultAMQPExchange
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		queue = defaultAMQPQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := pubCh.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	subCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	q, err := subCh.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	if err := subCh.QueueBind(q.Name, amqpBindingKey, exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq queue bind: %w", err)
	}
	if err := subCh.Qos(16, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq qos: %w", err)
	}

	bus := &AMQPBus{
		conn:     conn,
		pubCh:    pubCh,
		subCh:    subCh,
		exchange: exchange,
		queue:    q.Name,
		handler:  handler,
		log:      logger.WithModule("notifications.rabbitmq"),
	}
	if err := bus.startConsumer(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

// Publish sends the event as a persistent JSON message routed by its type.
func (b *AMQPBus) Publish(ctx context.Context, event DomainEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCh == nil {
		return ErrBusClosed
	}

	if err := b.pubCh.PublishWithContext(ctx,
		b.exchange,
		event.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", event.RoutingKey(), err)
	}
	return nil
}

// Close stops the consumer and closes the connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.pubCh = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}

func (b *AMQPBus) startConsumer(ctx context.Context) error {
	deliveries, err := b.subCh.Consume(
		b.queue,
		"",
		false, // ack manually after the handler succeeds
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for {
			select {
			case <-consumeCtx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					b.log.Info("delivery channel closed, stopping consumer")
					return
				}
				b.handleDelivery(consumeCtx, msg)
			}
		}
	}()
	return nil
}

func (b *AMQPBus) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var event DomainEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		b.log.Warn("discarding malformed delivery", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	if err := b.handler.Handle(ctx, event); err != nil {
		b.log.Warn("handler failed, requeueing",
			zap.String("domain_event_id", event.ID),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err),
		)
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}
