package models

// Invitation records that a user was invited to an event.
type Invitation struct {
	BaseModel

	EventID   string `gorm:"type:uuid;not null;uniqueIndex:idx_invitation_event_user" json:"event_id"`
	UserID    string `gorm:"type:varchar(64);not null;uniqueIndex:idx_invitation_event_user;index" json:"user_id"`
	InvitedBy string `gorm:"type:varchar(64);not null" json:"invited_by"`
	Message   string `gorm:"type:text" json:"message,omitempty"`
}
