package models

// Contact holds a user's delivery addresses. Addresses are stored encrypted; EmailIndex is a
// keyed digest that allows lookup by address.
type Contact struct {
	BaseModel

	UserID          string `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	DisplayName     string `gorm:"type:varchar(255)" json:"display_name"`
	EmailCiphertext string `gorm:"type:text" json:"-"`
	EmailIndex      string `gorm:"type:varchar(64);index" json:"-"`
	PhoneCiphertext string `gorm:"type:text" json:"-"`
}
