package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
)

func (c *Controller) initGuildRoutes() {
	guild := c.Group.Group("/guilds/:guild_id")

	guild.GET("/warnings", c.ListWarnings)
	guild.GET("/config", c.GetGuildConfig)
	guild.GET("/paused-channels", c.ListPausedChannels)

	protected := guild.Group("", c.authMiddleware)
	protected.PUT("/config", c.UpdateGuildConfig)
	protected.PUT("/paused-channels/:channel_id", c.PauseChannel)
	protected.DELETE("/paused-channels/:channel_id", c.ResumeChannel)
}

// ListWarnings returns warnings of a guild, optionally for one user.
func (c *Controller) ListWarnings(ctx echo.Context) error {
	limit, offset := paging(ctx)
	filter := repository.WarningFilter{
		GuildID: ctx.Param("guild_id"),
		UserID:  ctx.QueryParam("user_id"),
		Limit:   limit,
		Offset:  offset,
	}
	items, total, err := c.warnings.ListWarnings(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list warnings", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"warnings": items,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (c *Controller) GetGuildConfig(ctx echo.Context) error {
	cfg, err := c.configs.GuildConfig(ctx.Request().Context(), ctx.Param("guild_id"))
	if err != nil {
		if errors.Is(err, repository.ErrGuildConfigNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Guild is not configured"})
		}
		return c.HandleError(ctx, err, "Failed to get guild config", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, cfg)
}

// UpdateGuildConfig replaces the guild configuration. The guild id always comes from the path.
func (c *Controller) UpdateGuildConfig(ctx echo.Context) error {
	var cfg entities.GuildConfig
	if err := ctx.Bind(&cfg); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	cfg.GuildID = ctx.Param("guild_id")
	if cfg.MinWordCount < 0 || cfg.SingleUserRepeatThreshold < 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Thresholds must not be negative"})
	}

	if err := c.configs.Save(ctx.Request().Context(), &cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to save guild config", http.StatusInternalServerError)
	}
	saved, err := c.configs.GuildConfig(ctx.Request().Context(), cfg.GuildID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get guild config", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, saved)
}

func (c *Controller) ListPausedChannels(ctx echo.Context) error {
	items, err := c.guilds.ListPausedChannels(ctx.Request().Context(), ctx.Param("guild_id"))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list paused channels", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"channels": items,
		"count":    len(items),
	})
}

// PauseChannel exempts a ticket channel from inactivity handling.
func (c *Controller) PauseChannel(ctx echo.Context) error {
	var body struct {
		PausedBy string `json:"paused_by"`
	}
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(&body); err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		}
	}
	paused := &entities.PausedChannel{
		ChannelID: ctx.Param("channel_id"),
		GuildID:   ctx.Param("guild_id"),
		PausedBy:  body.PausedBy,
	}
	if err := c.guilds.PauseChannel(ctx.Request().Context(), paused); err != nil {
		return c.HandleError(ctx, err, "Failed to pause channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

func (c *Controller) ResumeChannel(ctx echo.Context) error {
	err := c.guilds.ResumeChannel(ctx.Request().Context(), ctx.Param("guild_id"), ctx.Param("channel_id"))
	if err != nil {
		if errors.Is(err, repository.ErrPausedChannelNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Channel is not paused"})
		}
		return c.HandleError(ctx, err, "Failed to resume channel", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}
