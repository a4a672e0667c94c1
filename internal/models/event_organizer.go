package models

// OrganizerRoleOwner marks the organizer who created the event; co-organizers use
// OrganizerRoleOrganizer. Both carry the same privileges.
const (
	OrganizerRoleOwner     = "OWNER"
	OrganizerRoleOrganizer = "ORGANIZER"
)

// EventOrganizer grants a user organizer privileges on one event.
type EventOrganizer struct {
	BaseModel

	EventID string `gorm:"type:uuid;not null;uniqueIndex:idx_event_organizer" json:"event_id"`
	UserID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_event_organizer;index" json:"user_id"`
	Role    string `gorm:"type:varchar(16);not null" json:"role"`
}
