package notifications

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
)

// Record is one recipient's copy of a domain event.
type Record struct {
	UserID    string
	EventID   string
	Type      models.NotificationType
	Title     string
	Message   string
	Metadata  map[string]any
	DedupeKey string
}

// Sink persists notification records. Record reports false when a record with the same
// dedupe key already exists.
type Sink interface {
	Record(ctx context.Context, record Record) (bool, error)
}

// Dispatcher turns domain events into per-recipient notification records.
type Dispatcher struct {
	sink Sink
	log  *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(sink Sink) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("notification dispatcher: sink is required")
	}
	return &Dispatcher{sink: sink, log: logger.WithModule("notifications.dispatcher")}, nil
}

// Handle records the event for every recipient. Recipients already recorded are skipped, so
// the same event may be handled any number of times. Failures for individual recipients are
// combined and returned after all recipients were attempted.
func (d *Dispatcher) Handle(ctx context.Context, event DomainEvent) error {
	if event.ID == "" {
		return errors.New("notification dispatcher: event id is required")
	}

	var errs error
	for _, userID := range event.Recipients {
		created, err := d.sink.Record(ctx, Record{
			UserID:    userID,
			EventID:   event.EventID,
			Type:      event.Type,
			Title:     event.Title,
			Message:   event.Message,
			Metadata:  event.Metadata,
			DedupeKey: DedupeKey(event.ID, event.Type, userID),
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", userID, err))
			continue
		}

		result := "created"
		if !created {
			result = "duplicate"
		}
		metrics.NotificationsRecorded.WithLabelValues(string(event.Type), result).Inc()
	}

	if errs != nil {
		d.log.Warn("notification fan-out incomplete",
			zap.String("domain_event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(errs),
		)
	}
	return errs
}
