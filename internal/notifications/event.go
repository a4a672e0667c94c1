package notifications

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/charlesng35/convene/internal/models"
)

// DomainEvent is a fact emitted by the lifecycle services after commit. Recipients are resolved
// by the producer so consumers never need to read back transactional state.
type DomainEvent struct {
	ID         string                  `json:"id"`
	Type       models.NotificationType `json:"type"`
	EventID    string                  `json:"event_id"`
	ActorID    string                  `json:"actor_id,omitempty"`
	Recipients []string                `json:"recipients"`
	Title      string                  `json:"title"`
	Message    string                  `json:"message"`
	Metadata   map[string]any          `json:"metadata,omitempty"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// NewDomainEvent builds an event with a fresh identifier, stamped with the wall clock until At
// says otherwise. Blank and duplicate recipients are dropped.
func NewDomainEvent(typ models.NotificationType, eventID string, recipients []string, title, message string) DomainEvent {
	return DomainEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		EventID:    eventID,
		Recipients: uniqueRecipients(recipients),
		Title:      title,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// At stamps the event with the producer's clock.
func (e DomainEvent) At(occurredAt time.Time) DomainEvent {
	if !occurredAt.IsZero() {
		e.OccurredAt = occurredAt.UTC()
	}
	return e
}

// WithActor records who triggered the event.
func (e DomainEvent) WithActor(actorID string) DomainEvent {
	e.ActorID = actorID
	return e
}

// WithMetadata attaches a metadata entry, copying the map so events stay independent.
func (e DomainEvent) WithMetadata(key string, value any) DomainEvent {
	meta := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// RoutingKey returns the topic used by broker-backed buses, e.g. "notification.waitlist_spot_available".
func (e DomainEvent) RoutingKey() string {
	return "notification." + strings.ToLower(string(e.Type))
}

// DedupeKey identifies one recipient's copy of a domain event. Redelivering the same event
// yields the same key for each recipient.
func DedupeKey(eventID string, typ models.NotificationType, userID string) string {
	sum := sha256.Sum256([]byte(eventID + "|" + string(typ) + "|" + userID))
	return hex.EncodeToString(sum[:])
}

func uniqueRecipients(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
