package notifications

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/convene/pkg/metrics"
)

// PublishAll hands each event to the bus. Publishing happens after the originating
// transaction committed, so failures are logged and counted rather than returned.
func PublishAll(ctx context.Context, bus Bus, log *zap.Logger, events ...DomainEvent) {
	if bus == nil {
		return
	}
	for _, event := range events {
		if len(event.Recipients) == 0 {
			continue
		}
		if err := bus.Publish(ctx, event); err != nil {
			metrics.NotificationsPublished.WithLabelValues(string(event.Type), "error").Inc()
			if log != nil {
				log.Warn("failed to publish domain event",
					zap.String("domain_event_id", event.ID),
					zap.String("type", string(event.Type)),
					zap.String("event_id", event.EventID),
					zap.Error(err),
				)
			}
			continue
		}
		metrics.NotificationsPublished.WithLabelValues(string(event.Type), "ok").Inc()
	}
}
