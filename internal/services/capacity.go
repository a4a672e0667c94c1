package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/models"
)

// Ledger is a point-in-time view of an event's seats. Held offers occupy a seat until they are
// confirmed or expire. Capacity and Available are nil for unlimited events.
type Ledger struct {
	Capacity   *int `json:"capacity"`
	Confirmed  int  `json:"confirmed"`
	HeldOffers int  `json:"held_offers"`
	Available  *int `json:"available"`
}

// HasRoom reports whether another seat can be granted.
func (l Ledger) HasRoom() bool {
	return l.Capacity == nil || l.Confirmed+l.HeldOffers < *l.Capacity
}

func computeLedger(tx *gorm.DB, ev *models.Event, now time.Time) (Ledger, error) {
	var confirmed int64
	if err := tx.Model(&models.RSVP{}).
		Where("event_id = ? AND response = ?", ev.ID, models.RSVPYes).
		Count(&confirmed).Error; err != nil {
		return Ledger{}, fmt.Errorf("count confirmed: %w", err)
	}

	var held int64
	if err := tx.Model(&models.WaitlistEntry{}).
		Where("event_id = ? AND notified_at IS NOT NULL AND expires_at >= ?", ev.ID, now).
		Count(&held).Error; err != nil {
		return Ledger{}, fmt.Errorf("count held offers: %w", err)
	}

	ledger := Ledger{Confirmed: int(confirmed), HeldOffers: int(held)}
	if ev.Capacity != nil {
		ledger.Capacity = intPtr(*ev.Capacity)
		available := *ev.Capacity - ledger.Confirmed - ledger.HeldOffers
		if available < 0 {
			available = 0
		}
		ledger.Available = intPtr(available)
	}
	return ledger, nil
}
