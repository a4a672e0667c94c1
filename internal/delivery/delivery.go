// Package delivery sends mass messages over external channels. The lifecycle services only see
// the Sender contract; channel implementations are registered on a Router at startup.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
)

// ErrChannelUnavailable is reported for recipients of a channel with no registered transport.
var ErrChannelUnavailable = errors.New("delivery: channel unavailable")

// Recipient is one resolved destination.
type Recipient struct {
	UserID  string
	Address string
	Name    string
}

// Content is the message sent to every recipient.
type Content struct {
	Subject string
	Body    string
	ReplyTo string
}

// Result is the outcome for one recipient. A nil Err means the transport accepted the message.
type Result struct {
	UserID string
	Err    error
}

// Sender delivers content to recipients and reports a result for each of them, in order.
type Sender interface {
	Send(ctx context.Context, recipients []Recipient, channel models.Channel, content Content) []Result
}

// Transport delivers to a single recipient over one channel.
type Transport interface {
	Deliver(ctx context.Context, recipient Recipient, content Content) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, recipient Recipient, content Content) error

// Deliver calls f.
func (f TransportFunc) Deliver(ctx context.Context, recipient Recipient, content Content) error {
	return f(ctx, recipient, content)
}

// Router dispatches to the transport registered for each channel.
type Router struct {
	mu         sync.RWMutex
	transports map[models.Channel]Transport
	log        *zap.Logger
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{
		transports: make(map[models.Channel]Transport),
		log:        logger.WithModule("delivery"),
	}
}

// Register installs the transport for channel, replacing any previous one.
func (r *Router) Register(channel models.Channel, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if transport == nil {
		delete(r.transports, channel)
		return
	}
	r.transports[channel] = transport
}

// Supports reports whether channel has a transport.
func (r *Router) Supports(channel models.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.transports[channel]
	return ok
}

// Send delivers sequentially. A cancelled context fails the remaining recipients.
func (r *Router) Send(ctx context.Context, recipients []Recipient, channel models.Channel, content Content) []Result {
	r.mu.RLock()
	transport := r.transports[channel]
	r.mu.RUnlock()

	results := make([]Result, 0, len(recipients))
	for _, recipient := range recipients {
		var err error
		switch {
		case transport == nil:
			err = fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
		case ctx.Err() != nil:
			err = ctx.Err()
		default:
			err = transport.Deliver(ctx, recipient, content)
		}

		outcome := "sent"
		if err != nil {
			outcome = "failed"
			r.log.Warn("delivery failed",
				zap.String("channel", string(channel)),
				zap.String("user_id", recipient.UserID),
				zap.Error(err),
			)
		}
		metrics.DeliveryAttempts.WithLabelValues(string(channel), outcome).Inc()
		results = append(results, Result{UserID: recipient.UserID, Err: err})
	}
	return results
}
