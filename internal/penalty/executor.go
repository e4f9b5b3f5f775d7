// Package penalty applies confirmed penalties on the platform.
package penalty

import (
	"context"
	"fmt"
	"time"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
)

const (
	defaultMuteDuration = time.Hour
	maxBanDeleteDays    = 7
)

// Config holds the penalty defaults.
type Config struct {
	// MuteDuration is used for timeout mutes when the guild has no mute role.
	MuteDuration time.Duration
	// BanDeleteDays deletes the member's recent messages on ban (0-7).
	BanDeleteDays int
	// NotifyTarget sends warned members a direct notice.
	NotifyTarget bool
}

// Executor implements moderation.PenaltyApplier.
type Executor struct {
	cfg      Config
	client   moderation.ActionClient
	guilds   moderation.GuildConfigProvider
	warnings repository.WarningRepository
	log      logger.Logger
}

// NewExecutor creates an executor. guilds may be nil, in which case mutes
// always use timeouts and no log channel notices are posted.
func NewExecutor(cfg Config, client moderation.ActionClient, guilds moderation.GuildConfigProvider, warnings repository.WarningRepository, log logger.Logger) *Executor {
	if cfg.MuteDuration <= 0 {
		cfg.MuteDuration = defaultMuteDuration
	}
	cfg.BanDeleteDays = max(0, min(cfg.BanDeleteDays, maxBanDeleteDays))
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		client:   client,
		guilds:   guilds,
		warnings: warnings,
		log:      log.Module("penalty"),
	}
}

// Apply executes req. A penalty the platform reports as already in effect is
// treated as applied.
func (x *Executor) Apply(ctx context.Context, req moderation.PenaltyRequest) error {
	if !req.Action.Valid() {
		return x.fault(req, fmt.Errorf("unknown action %q", req.Action))
	}

	guild, err := x.guildConfig(ctx, req.GuildID)
	if err != nil {
		return x.fault(req, err)
	}

	switch req.Action {
	case moderation.ActionWarn:
		err = x.warn(ctx, req)
	case moderation.ActionMute:
		mr := x.request(req)
		if guild != nil && guild.MuteRoleID != "" {
			mr.RoleID = guild.MuteRoleID
		} else {
			mr.Duration = x.cfg.MuteDuration
		}
		err = x.moderate(ctx, mr)
	case moderation.ActionKick:
		err = x.moderate(ctx, x.request(req))
	case moderation.ActionBan:
		mr := x.request(req)
		mr.DeleteMessageDays = x.cfg.BanDeleteDays
		err = x.moderate(ctx, mr)
	}
	if err != nil {
		return x.fault(req, err)
	}

	x.log.Info("penalty applied",
		logger.String("alert_id", req.AlertID),
		logger.String("guild_id", req.GuildID),
		logger.String("user_id", req.UserID),
		logger.String("moderator_id", req.ModeratorID),
		logger.String("action", string(req.Action)))
	x.postLog(ctx, guild, req)
	return nil
}

func (x *Executor) request(req moderation.PenaltyRequest) moderation.ModerationRequest {
	return moderation.ModerationRequest{
		GuildID: req.GuildID,
		UserID:  req.UserID,
		Action:  req.Action,
		Reason:  req.Reason,
	}
}

func (x *Executor) moderate(ctx context.Context, mr moderation.ModerationRequest) error {
	err := x.client.ApplyModeration(ctx, mr)
	if errors.Is(err, moderation.ErrAlreadyApplied) {
		x.log.Info("penalty already in effect",
			logger.String("guild_id", mr.GuildID),
			logger.String("user_id", mr.UserID),
			logger.String("action", string(mr.Action)))
		return nil
	}
	return err
}

// warn records the warning once per alert and notifies the member on first record.
func (x *Executor) warn(ctx context.Context, req moderation.PenaltyRequest) error {
	w := &entities.Warning{
		GuildID:     req.GuildID,
		UserID:      req.UserID,
		ModeratorID: req.ModeratorID,
		Reason:      req.Reason,
	}
	if req.AlertID != "" {
		w.AlertID = &req.AlertID
	}
	created, err := x.warnings.RecordWarning(ctx, w)
	if err != nil {
		return fmt.Errorf("failed to record warning: %w", err)
	}
	if !created || !x.cfg.NotifyTarget {
		return nil
	}
	// Members with closed DMs still get the recorded warning.
	if err := x.moderate(ctx, x.request(req)); err != nil {
		x.log.Warn("failed to notify warned member",
			logger.String("guild_id", req.GuildID),
			logger.String("user_id", req.UserID),
			logger.Error(err))
	}
	return nil
}

func (x *Executor) guildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error) {
	if x.guilds == nil {
		return nil, nil
	}
	cfg, err := x.guilds.GuildConfig(ctx, guildID)
	if errors.Is(err, repository.ErrGuildConfigNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guild config: %w", err)
	}
	return cfg, nil
}

func (x *Executor) postLog(ctx context.Context, guild *entities.GuildConfig, req moderation.PenaltyRequest) {
	if guild == nil || guild.LogChannelID == "" {
		return
	}
	text := fmt.Sprintf("%s %s: <@%s> by <@%s>. %s",
		moderation.EmojiFor(req.Action), req.Action, req.UserID, req.ModeratorID, req.Reason)
	if _, err := x.client.PostMessage(ctx, guild.LogChannelID, text); err != nil {
		x.log.Warn("failed to post moderation log entry",
			logger.String("guild_id", req.GuildID),
			logger.Error(err))
	}
}

func (x *Executor) fault(req moderation.PenaltyRequest, cause error) error {
	return errors.Newf("failed to %s user %s: %w", req.Action, req.UserID, cause).
		Component("penalty").
		Category(errors.CategoryPenalty).
		Context("guild_id", req.GuildID).
		Context("alert_id", req.AlertID).
		Build()
}
