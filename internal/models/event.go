package models

import "time"

// EventState enumerates lifecycle states. Only DRAFT, PUBLISHED, CLOSED and CANCELLED are
// persisted; ONGOING and COMPLETED are derived from the clock.
type EventState string

const (
	EventStateDraft     EventState = "DRAFT"
	EventStatePublished EventState = "PUBLISHED"
	EventStateOngoing   EventState = "ONGOING"
	EventStateClosed    EventState = "CLOSED"
	EventStateCompleted EventState = "COMPLETED"
	EventStateCancelled EventState = "CANCELLED"
)

// Terminal reports whether no further transition is possible from the state.
func (s EventState) Terminal() bool {
	return s == EventStateCancelled || s == EventStateCompleted
}

// Event is a scheduled gathering with an optional attendance cap.
type Event struct {
	BaseModel

	Title           string     `gorm:"type:varchar(255)" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	Notes           string     `gorm:"type:text" json:"notes"`
	DateTime        *time.Time `gorm:"index" json:"date_time"`
	EndDateTime     *time.Time `json:"end_date_time"`
	Timezone        string     `gorm:"type:varchar(64)" json:"timezone"`
	Location        string     `gorm:"type:varchar(512)" json:"location"`
	Capacity        *int       `json:"capacity"`
	WaitlistEnabled bool       `gorm:"default:false" json:"waitlist_enabled"`
	RSVPDeadline    *time.Time `json:"rsvp_deadline"`

	State         EventState `gorm:"type:varchar(16);not null;index" json:"state"`
	CreatedBy     string     `gorm:"type:varchar(64);not null;index" json:"created_by"`
	PublishedAt   *time.Time `json:"published_at"`
	ClosedAt      *time.Time `json:"closed_at"`
	CancelledAt   *time.Time `json:"cancelled_at"`
	CancelMessage string     `gorm:"type:text" json:"cancel_message,omitempty"`

	Organizers []EventOrganizer `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"organizers,omitempty"`
}

// EndsAt returns the instant the event completes. Events without an explicit end finish
// defaultDuration after they start. It returns nil when the event has no start time.
func (e *Event) EndsAt(defaultDuration time.Duration) *time.Time {
	if e == nil || e.DateTime == nil {
		return nil
	}
	if e.EndDateTime != nil {
		end := *e.EndDateTime
		return &end
	}
	end := e.DateTime.Add(defaultDuration)
	return &end
}

// HasFiniteCapacity reports whether attendance is capped.
func (e *Event) HasFiniteCapacity() bool {
	return e != nil && e.Capacity != nil
}
