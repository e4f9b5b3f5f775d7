package entities

import "time"

// Alert states as persisted.
const (
	AlertStateOpen      = "OPEN"
	AlertStateEscalated = "ESCALATED"
	AlertStatePenalized = "PENALIZED"
	AlertStateDismissed = "DISMISSED"
	AlertStateExpired   = "EXPIRED"
)

// OpenAlertStates are the non-terminal states.
var OpenAlertStates = []string{AlertStateOpen, AlertStateEscalated}

// ClosedAlertStates are the terminal states.
var ClosedAlertStates = []string{AlertStatePenalized, AlertStateDismissed, AlertStateExpired}

// IsTerminalState reports whether state is one of ClosedAlertStates.
func IsTerminalState(state string) bool {
	switch state {
	case AlertStatePenalized, AlertStateDismissed, AlertStateExpired:
		return true
	default:
		return false
	}
}

// openSlot marks the single open alert allowed per (guild, user, kind).
const openSlot = 1

// Alert is one moderation concern against one target, tracked until resolved.
//
// OpenSlot is 1 while the alert is open and NULL once it is terminal; the
// unique index over (guild, target, kind, open_slot) therefore admits any
// number of closed alerts but only one open one.
type Alert struct {
	ID                    string     `gorm:"primaryKey;size:36" json:"id"`
	GuildID               string     `gorm:"size:32;not null;index:idx_alerts_guild_state,priority:1;uniqueIndex:idx_alerts_open_slot,priority:1" json:"guild_id"`
	TargetUserID          string     `gorm:"size:32;not null;index;uniqueIndex:idx_alerts_open_slot,priority:2" json:"target_user_id"`
	Kind                  string     `gorm:"size:32;not null;uniqueIndex:idx_alerts_open_slot,priority:3" json:"kind"`
	OpenSlot              *int       `gorm:"uniqueIndex:idx_alerts_open_slot,priority:4" json:"-"`
	State                 string     `gorm:"size:16;not null;index:idx_alerts_guild_state,priority:2" json:"state"`
	ChannelID             string     `gorm:"size:32;not null" json:"channel_id"`
	SourceMessageID       string     `gorm:"size:32;default:''" json:"source_message_id"`
	NotificationChannelID *string    `gorm:"size:32" json:"notification_channel_id,omitempty"`
	NotificationMessageID *string    `gorm:"size:32;uniqueIndex" json:"notification_message_id,omitempty"`
	// NotifyAttemptedAt is the last failed staff notification attempt.
	NotifyAttemptedAt *time.Time `gorm:"index" json:"notify_attempted_at,omitempty"`
	AwaitingPenalty       bool       `gorm:"not null;default:false" json:"awaiting_penalty"`
	PendingAction         *string    `gorm:"size:16" json:"pending_action,omitempty"`
	ClaimedBy             *string    `gorm:"size:32" json:"claimed_by,omitempty"`
	ClaimedAt             *time.Time `json:"claimed_at,omitempty"`
	EvidenceCount         int        `gorm:"not null;default:0" json:"evidence_count"`
	PenaltyApplied        *string    `gorm:"size:16" json:"penalty_applied,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy            *string    `gorm:"size:32" json:"resolved_by,omitempty"`
	Version               int        `gorm:"not null;default:1" json:"version"`
	CreatedAt             time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Evidence []AlertEvidence `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"evidence,omitempty"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// IsOpen reports whether the alert still accepts reactions and evidence.
func (a *Alert) IsOpen() bool {
	return !IsTerminalState(a.State)
}

// HasNotification reports whether the staff notification was delivered.
func (a *Alert) HasNotification() bool {
	return a.NotificationMessageID != nil && *a.NotificationMessageID != ""
}

// MarkOpen sets the open slot for a newly created alert.
func (a *Alert) MarkOpen() {
	slot := openSlot
	a.OpenSlot = &slot
}

// AlertEvidence is one detection folded into an alert, kept in detection order.
type AlertEvidence struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	AlertID         string    `gorm:"size:36;not null;uniqueIndex:idx_alert_evidence_seq,priority:1" json:"-"`
	Seq             int       `gorm:"not null;uniqueIndex:idx_alert_evidence_seq,priority:2" json:"seq"`
	SourceMessageID string    `gorm:"size:32;default:''" json:"source_message_id"`
	ChannelID       string    `gorm:"size:32;default:''" json:"channel_id"`
	Detail          string    `gorm:"type:text" json:"detail"`
	DetectedAt      time.Time `gorm:"not null" json:"detected_at"`
}

// TableName returns the table name for GORM.
func (AlertEvidence) TableName() string {
	return "alert_evidence"
}
