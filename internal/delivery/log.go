package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/pkg/logger"
)

// LogTransport records messages instead of sending them. It backs channels that are not
// configured in development.
type LogTransport struct {
	channel models.Channel
	log     *zap.Logger
}

// NewLogTransport constructs a LogTransport for channel.
func NewLogTransport(channel models.Channel) *LogTransport {
	return &LogTransport{channel: channel, log: logger.WithModule("delivery.log")}
}

// Deliver logs the message without its body.
func (t *LogTransport) Deliver(_ context.Context, recipient Recipient, content Content) error {
	t.log.Info("message not sent, channel logs only",
		zap.String("channel", string(t.channel)),
		zap.String("user_id", recipient.UserID),
		zap.String("subject", content.Subject),
		zap.Int("body_bytes", len(content.Body)),
	)
	return nil
}
