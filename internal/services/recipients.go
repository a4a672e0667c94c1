package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/models"
)

// Recipient sets are resolved inside the originating transaction so fan-out never reads back
// state that changed after commit.

func organizerIDs(tx *gorm.DB, eventID string) ([]string, error) {
	var ids []string
	if err := tx.Model(&models.EventOrganizer{}).
		Where("event_id = ?", eventID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve organizers: %w", err)
	}
	return ids, nil
}

func respondentIDs(tx *gorm.DB, eventID string, responses ...models.RSVPResponse) ([]string, error) {
	var ids []string
	query := tx.Model(&models.RSVP{}).Where("event_id = ?", eventID)
	if len(responses) > 0 {
		query = query.Where("response IN ?", responses)
	}
	if err := query.Order("responded_at ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve respondents: %w", err)
	}
	return ids, nil
}

func waitlistedIDs(tx *gorm.DB, eventID string) ([]string, error) {
	var ids []string
	if err := tx.Model(&models.WaitlistEntry{}).
		Where("event_id = ?", eventID).
		Order("sequence ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve waitlist: %w", err)
	}
	return ids, nil
}

func isOrganizer(tx *gorm.DB, eventID, userID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.EventOrganizer{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check organizer: %w", err)
	}
	return count > 0, nil
}

func requireOrganizer(tx *gorm.DB, eventID, userID string) error {
	ok, err := isOrganizer(tx, eventID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOrganizer
	}
	return nil
}
