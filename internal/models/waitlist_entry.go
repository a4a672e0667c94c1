package models

import "time"

// WaitlistEntry queues a user for a seat on a full event. An entry with NotifiedAt set holds a
// time-limited offer and no longer has a queue position.
type WaitlistEntry struct {
	BaseModel

	EventID    string     `gorm:"type:uuid;not null;uniqueIndex:idx_waitlist_event_user;index:idx_waitlist_event_sequence" json:"event_id"`
	UserID     string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_waitlist_event_user" json:"user_id"`
	Sequence   int64      `gorm:"not null;index:idx_waitlist_event_sequence" json:"-"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	// Position is the 1-based rank among waiting entries, filled on read.
	Position *int `gorm:"-" json:"position"`
}

// Offered reports whether a seat offer has been issued for the entry.
func (w *WaitlistEntry) Offered() bool {
	return w != nil && w.NotifiedAt != nil
}

// OfferActive reports whether the entry holds an offer that has not yet expired at now.
func (w *WaitlistEntry) OfferActive(now time.Time) bool {
	if !w.Offered() {
		return false
	}
	return w.ExpiresAt == nil || !now.After(*w.ExpiresAt)
}

// OfferExpired reports whether the entry's offer lapsed before now.
func (w *WaitlistEntry) OfferExpired(now time.Time) bool {
	return w.Offered() && w.ExpiresAt != nil && w.ExpiresAt.Before(now)
}
