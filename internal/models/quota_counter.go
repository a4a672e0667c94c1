package models

// QuotaScopeType identifies what a counter limits.
type QuotaScopeType string

const (
	QuotaScopeEvent     QuotaScopeType = "EVENT"
	QuotaScopeOrganizer QuotaScopeType = "ORGANIZER"
)

// Channel is an outbound communication medium subject to quotas.
type Channel string

const (
	ChannelEmail  Channel = "EMAIL"
	ChannelSMS    Channel = "SMS"
	ChannelInvite Channel = "INVITE"
)

// Valid reports whether the channel is known.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInvite:
		return true
	default:
		return false
	}
}

// QuotaCounter tracks sends for one (scope, channel). DailyWindow holds the UTC date
// (YYYY-MM-DD) DailyCount belongs to; a zero limit means unlimited.
type QuotaCounter struct {
	BaseModel

	ScopeType   QuotaScopeType `gorm:"type:varchar(16);not null;uniqueIndex:idx_quota_scope_channel" json:"scope_type"`
	ScopeID     string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_quota_scope_channel" json:"scope_id"`
	Channel     Channel        `gorm:"type:varchar(16);not null;uniqueIndex:idx_quota_scope_channel" json:"channel"`
	DailyCount  int            `gorm:"not null;default:0" json:"daily_count"`
	DailyWindow string         `gorm:"type:varchar(10)" json:"daily_window"`
	TotalCount  int            `gorm:"not null;default:0" json:"total_count"`
	DailyLimit  int            `gorm:"not null;default:0" json:"daily_limit"`
	TotalLimit  int            `gorm:"not null;default:0" json:"total_limit"`
}
