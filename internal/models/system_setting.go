package models

import "time"

// SystemSetting is an installation-wide key/value that must outlive the process, such as a
// generated contact key or token signing secret.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
