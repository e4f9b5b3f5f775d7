package entities

import (
	"strings"
	"time"
)

// GuildConfig holds per-guild moderation settings.
type GuildConfig struct {
	GuildID string `gorm:"primaryKey;size:32" json:"guild_id"`
	// ReviewChannelID is the staff channel or thread that receives alert notifications.
	ReviewChannelID     string `gorm:"size:32;default:''" json:"review_channel_id"`
	LogChannelID        string `gorm:"size:32;default:''" json:"log_channel_id"`
	TranscriptChannelID string `gorm:"size:32;default:''" json:"transcript_channel_id"`
	// StaffRoleIDs is a comma-separated list of roles allowed to act on alerts.
	StaffRoleIDs              string    `gorm:"size:512;default:''" json:"staff_role_ids"`
	MuteRoleID                string    `gorm:"size:32;default:''" json:"mute_role_id"`
	OwnerID                   string    `gorm:"size:32;default:''" json:"owner_id"`
	SingleUserRepeatThreshold int       `gorm:"not null;default:5" json:"single_user_repeat_threshold"`
	MinWordCount              int       `gorm:"not null;default:5" json:"min_word_count"`
	CreatedAt                 time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (GuildConfig) TableName() string {
	return "guild_configs"
}

// StaffRoles splits StaffRoleIDs.
func (g *GuildConfig) StaffRoles() []string {
	if g.StaffRoleIDs == "" {
		return nil
	}
	parts := strings.Split(g.StaffRoleIDs, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// Warning is a recorded warn penalty.
type Warning struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GuildID     string    `gorm:"size:32;not null;index:idx_warnings_guild_user,priority:1" json:"guild_id"`
	UserID      string    `gorm:"size:32;not null;index:idx_warnings_guild_user,priority:2" json:"user_id"`
	ModeratorID string    `gorm:"size:32;default:''" json:"moderator_id"`
	Reason      string    `gorm:"type:text" json:"reason"`
	AlertID     *string   `gorm:"size:36;uniqueIndex" json:"alert_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Warning) TableName() string {
	return "warnings"
}

// PausedChannel exempts a ticket channel from the inactivity sweep.
type PausedChannel struct {
	ChannelID string    `gorm:"primaryKey;size:32" json:"channel_id"`
	GuildID   string    `gorm:"size:32;not null;index" json:"guild_id"`
	PausedBy  string    `gorm:"size:32;default:''" json:"paused_by"`
	PausedAt  time.Time `gorm:"autoCreateTime" json:"paused_at"`
}

// TableName returns the table name for GORM.
func (PausedChannel) TableName() string {
	return "paused_channels"
}

// All returns every entity for migration.
func All() []any {
	return []any{
		&Alert{},
		&AlertEvidence{},
		&GuildConfig{},
		&Warning{},
		&PausedChannel{},
	}
}
