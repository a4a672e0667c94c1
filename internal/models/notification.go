package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationEventUpdated          NotificationType = "EVENT_UPDATED"
	NotificationEventCancelled        NotificationType = "EVENT_CANCELLED"
	NotificationRSVPReconfirm         NotificationType = "RSVP_RECONFIRM"
	NotificationWaitlistSpotAvailable NotificationType = "WAITLIST_SPOT_AVAILABLE"
	NotificationNewRSVP               NotificationType = "NEW_RSVP"
	NotificationRSVPChanged           NotificationType = "RSVP_CHANGED"
	NotificationEventInvited          NotificationType = "EVENT_INVITED"
)

// Notification represents an in-app notification for a user. DedupeKey makes repeated delivery
// of the same domain event idempotent.
type Notification struct {
	BaseModel

	UserID    string           `gorm:"type:varchar(64);not null;index" json:"user_id"`
	EventID   *string          `gorm:"type:uuid;index" json:"event_id,omitempty"`
	Type      NotificationType `gorm:"type:varchar(64);not null" json:"type"`
	Title     string           `gorm:"type:varchar(255);not null" json:"title"`
	Message   string           `gorm:"type:text" json:"message"`
	Metadata  datatypes.JSON   `json:"metadata,omitempty"`
	DedupeKey string           `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
