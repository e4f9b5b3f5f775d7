package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
)

// guildRepository implements GuildRepository.
type guildRepository struct {
	db *gorm.DB
}

// NewGuildRepository creates a new GuildRepository.
func NewGuildRepository(db *gorm.DB) GuildRepository {
	return &guildRepository{db: db}
}

func (r *guildRepository) GetGuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error) {
	var cfg entities.GuildConfig
	if err := r.db.WithContext(ctx).First(&cfg, "guild_id = ?", guildID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuildConfigNotFound
		}
		return nil, fmt.Errorf("failed to get guild config %s: %w", guildID, err)
	}
	return &cfg, nil
}

// SaveGuildConfig inserts or replaces the configuration of a guild.
func (r *guildRepository) SaveGuildConfig(ctx context.Context, cfg *entities.GuildConfig) error {
	if cfg.GuildID == "" {
		return fmt.Errorf("failed to save guild config: missing guild ID")
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"review_channel_id", "log_channel_id", "transcript_channel_id",
				"staff_role_ids", "mute_role_id", "owner_id",
				"single_user_repeat_threshold", "min_word_count", "updated_at",
			}),
		}).
		Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to save guild config %s: %w", cfg.GuildID, err)
	}
	return nil
}

func (r *guildRepository) ListGuildConfigs(ctx context.Context) ([]entities.GuildConfig, error) {
	var items []entities.GuildConfig
	if err := r.db.WithContext(ctx).Order("guild_id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list guild configs: %w", err)
	}
	return items, nil
}

// PauseChannel marks a channel as paused. Pausing twice is a no-op.
func (r *guildRepository) PauseChannel(ctx context.Context, paused *entities.PausedChannel) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "channel_id"}}, DoNothing: true}).
		Create(paused).Error
	if err != nil {
		return fmt.Errorf("failed to pause channel %s: %w", paused.ChannelID, err)
	}
	return nil
}

func (r *guildRepository) ResumeChannel(ctx context.Context, guildID, channelID string) error {
	result := r.db.WithContext(ctx).
		Where("guild_id = ? AND channel_id = ?", guildID, channelID).
		Delete(&entities.PausedChannel{})
	if result.Error != nil {
		return fmt.Errorf("failed to resume channel %s: %w", channelID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPausedChannelNotFound
	}
	return nil
}

func (r *guildRepository) IsChannelPaused(ctx context.Context, channelID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.PausedChannel{}).
		Where("channel_id = ?", channelID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check paused channel %s: %w", channelID, err)
	}
	return count > 0, nil
}

func (r *guildRepository) ListPausedChannels(ctx context.Context, guildID string) ([]entities.PausedChannel, error) {
	var items []entities.PausedChannel
	if err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).
		Order("paused_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list paused channels: %w", err)
	}
	return items, nil
}

func (r *guildRepository) PausedChannelIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&entities.PausedChannel{}).
		Pluck("channel_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list paused channel ids: %w", err)
	}
	return ids, nil
}

// warningRepository implements WarningRepository.
type warningRepository struct {
	db *gorm.DB
}

// NewWarningRepository creates a new WarningRepository.
func NewWarningRepository(db *gorm.DB) WarningRepository {
	return &warningRepository{db: db}
}

func (r *warningRepository) RecordWarning(ctx context.Context, w *entities.Warning) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "alert_id"}}, DoNothing: true}).
		Create(w)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record warning for user %s: %w", w.UserID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *warningRepository) ListWarnings(ctx context.Context, filter WarningFilter) ([]entities.Warning, int64, error) {
	var items []entities.Warning
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if filter.GuildID != "" {
			db = db.Where("guild_id = ?", filter.GuildID)
		}
		if filter.UserID != "" {
			db = db.Where("user_id = ?", filter.UserID)
		}
		return db
	}

	if err := r.db.WithContext(ctx).Model(&entities.Warning{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count warnings: %w", err)
	}

	query := r.db.WithContext(ctx).Scopes(scope).Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list warnings: %w", err)
	}
	return items, total, nil
}

func (r *warningRepository) CountWarnings(ctx context.Context, guildID, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Warning{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count warnings: %w", err)
	}
	return count, nil
}
