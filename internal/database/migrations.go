package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Event{},
		&models.EventOrganizer{},
		&models.RSVP{},
		&models.WaitlistEntry{},
		&models.QuotaCounter{},
		&models.Notification{},
		&models.MassMessage{},
		&models.Invitation{},
		&models.Contact{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}
