package models

import "time"

// RSVPResponse is an attendee's answer to an event.
type RSVPResponse string

const (
	RSVPYes   RSVPResponse = "YES"
	RSVPNo    RSVPResponse = "NO"
	RSVPMaybe RSVPResponse = "MAYBE"
)

// Valid reports whether the response is one of the known answers.
func (r RSVPResponse) Valid() bool {
	switch r {
	case RSVPYes, RSVPNo, RSVPMaybe:
		return true
	default:
		return false
	}
}

// RSVP records one user's response to one event. Rows are updated in place and never removed.
type RSVP struct {
	BaseModel

	EventID              string       `gorm:"type:uuid;not null;uniqueIndex:idx_rsvp_event_user;index:idx_rsvp_event_response" json:"event_id"`
	UserID               string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_rsvp_event_user" json:"user_id"`
	Response             RSVPResponse `gorm:"type:varchar(8);not null;index:idx_rsvp_event_response" json:"response"`
	RespondedAt          time.Time    `json:"responded_at"`
	NeedsReconfirmation  bool         `gorm:"default:false" json:"needs_reconfirmation"`
	ReconfirmRequestedAt *time.Time   `json:"reconfirm_requested_at,omitempty"`
}

func (RSVP) TableName() string {
	return "rsvps"
}
