package repository

import (
	"context"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
)

var (
	ErrGuildConfigNotFound   = errors.NewStd("guild config not found")
	ErrPausedChannelNotFound = errors.NewStd("paused channel not found")
)

// GuildRepository stores per-guild configuration and paused ticket channels.
type GuildRepository interface {
	GetGuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error)
	SaveGuildConfig(ctx context.Context, cfg *entities.GuildConfig) error
	ListGuildConfigs(ctx context.Context) ([]entities.GuildConfig, error)

	PauseChannel(ctx context.Context, paused *entities.PausedChannel) error
	ResumeChannel(ctx context.Context, guildID, channelID string) error
	IsChannelPaused(ctx context.Context, channelID string) (bool, error)
	ListPausedChannels(ctx context.Context, guildID string) ([]entities.PausedChannel, error)
	// PausedChannelIDs returns every paused channel across guilds.
	PausedChannelIDs(ctx context.Context) ([]string, error)
}

// WarningRepository records warn penalties.
type WarningRepository interface {
	// RecordWarning inserts a warning. A second warning for the same alert is
	// ignored and reported with created=false.
	RecordWarning(ctx context.Context, w *entities.Warning) (created bool, err error)
	ListWarnings(ctx context.Context, filter WarningFilter) ([]entities.Warning, int64, error)
	CountWarnings(ctx context.Context, guildID, userID string) (int64, error)
}

// WarningFilter controls warning listing queries.
type WarningFilter struct {
	GuildID string
	UserID  string
	Limit   int
	Offset  int
}
