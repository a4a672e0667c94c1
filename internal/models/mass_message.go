package models

import "gorm.io/datatypes"

// Audience selects which attendees a mass message targets.
type Audience string

const (
	AudienceAttending Audience = "ATTENDING"
	AudienceMaybe     Audience = "MAYBE"
	AudienceWaitlist  Audience = "WAITLIST"
	AudienceAll       Audience = "ALL"
)

// MassMessage is the audit record of one bulk send.
type MassMessage struct {
	BaseModel

	EventID   string         `gorm:"type:uuid;not null;index" json:"event_id"`
	SenderID  string         `gorm:"type:varchar(64);not null;index" json:"sender_id"`
	Channel   Channel        `gorm:"type:varchar(16);not null" json:"channel"`
	Audience  Audience       `gorm:"type:varchar(16);not null" json:"audience"`
	Subject   string         `gorm:"type:varchar(255)" json:"subject"`
	Body      string         `gorm:"type:text" json:"body"`
	Requested int            `json:"requested"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Details   datatypes.JSON `json:"details,omitempty"`
}
