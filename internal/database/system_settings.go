package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/models"
)

// Settings persisted across restarts.
const (
	ContactKeySetting = "privacy.contact_key"
	JWTSecretSetting  = "auth.jwt.secret"
)

var errNoDB = errors.New("system settings: db is nil")

// GetSystemSetting returns the stored value, or "" when key was never written.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errNoDB
	}
	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
	return setting.Value, nil
}

// UpsertSystemSetting writes key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return errNoDB
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("system settings: key is required")
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// ReconcileSecret decides which value of a secret the process should use. An operator-supplied
// value is stored and wins. A value generated at start-up only wins on first boot; after that
// the stored one is returned so data sealed or tokens signed before the restart stay valid.
func ReconcileSecret(ctx context.Context, db *gorm.DB, key, value string, generated bool) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("system settings: %s is empty", key)
	}

	stored, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", err
	}
	stored = strings.TrimSpace(stored)
	if stored == value || (generated && stored != "") {
		return stored, nil
	}

	if err := UpsertSystemSetting(ctx, db, key, value); err != nil {
		return "", err
	}
	return value, nil
}
