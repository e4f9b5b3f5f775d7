package moderation

import (
	"context"
	"time"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
)

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	URL         string
	Size        int
}

// MessageEvent is a message observed on the platform.
type MessageEvent struct {
	ID          string
	GuildID     string
	ChannelID   string
	ChannelName string
	AuthorID    string
	AuthorIsBot bool
	Content     string
	Attachments []Attachment
	Timestamp   time.Time
}

// ReactionEvent is a reaction added to or removed from a message.
type ReactionEvent struct {
	MessageID    string
	ChannelID    string
	GuildID      string
	ReactorID    string
	ReactorIsBot bool
	Emoji        string
	Added        bool
}

// Violation is one detector finding. It is never persisted directly.
type Violation struct {
	Kind            Kind
	GuildID         string
	ChannelID       string
	SourceMessageID string
	AuthorID        string
	Evidence        string
	DetectedAt      time.Time
}

// Detector inspects a message and reports zero or more violations.
// Implementations keep their own bounded state and never touch the alert store.
type Detector interface {
	Name() string
	Evaluate(ctx context.Context, msg *MessageEvent) ([]Violation, error)
}

// InactivitySweeper reports channels that have been silent too long.
type InactivitySweeper interface {
	Sweep(ctx context.Context, now time.Time) []Violation
	// MarkReminded confirms the reminder was posted; until then it is reported again.
	MarkReminded(channelID string, at time.Time)
	Forget(channelID string)
}

// ErrAlreadyApplied is returned by ActionClient.ApplyModeration when the
// platform reports the penalty as already in effect, e.g. the member left or
// is already banned.
var ErrAlreadyApplied = errors.NewStd("moderation already applied")

// ModerationRequest is a platform-level penalty.
type ModerationRequest struct {
	GuildID string
	UserID  string
	Action  Action
	Reason  string
	// Duration bounds a timeout-based mute.
	Duration time.Duration
	// RoleID is the mute role, when the guild has one.
	RoleID            string
	DeleteMessageDays int
}

// ActionClient performs outbound platform calls.
type ActionClient interface {
	PostMessage(ctx context.Context, channelID, content string) (string, error)
	AddReactionOptions(ctx context.Context, channelID, messageID string, emojis []string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	ApplyModeration(ctx context.Context, req ModerationRequest) error
	DeleteChannel(ctx context.Context, channelID string) error
	SendTranscript(ctx context.Context, channelID, destinationChannelID string) error
}

// StaffOracle answers whether a user may act on alerts in a guild.
type StaffOracle interface {
	IsStaff(ctx context.Context, guildID, userID string) (bool, error)
}

// PenaltyRequest asks the executor to apply one penalty for one alert.
type PenaltyRequest struct {
	AlertID     string
	GuildID     string
	UserID      string
	ModeratorID string
	Action      Action
	Reason      string
}

// PenaltyApplier applies penalties.
type PenaltyApplier interface {
	Apply(ctx context.Context, req PenaltyRequest) error
}

// GuildConfigProvider returns per-guild settings. A guild without stored
// settings yields repository.ErrGuildConfigNotFound.
type GuildConfigProvider interface {
	GuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error)
}
