package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
)

func (c *Controller) initAlertRoutes() {
	c.Group.GET("/alerts", c.ListAlerts)
	c.Group.GET("/alerts/:id", c.GetAlert)
	c.Group.GET("/guilds/:guild_id/alerts/open", c.listGuildAlerts(repository.AlertStatusOpen))
	c.Group.GET("/guilds/:guild_id/alerts/closed", c.listGuildAlerts(repository.AlertStatusClosed))
}

// ListAlerts returns alerts filtered by guild_id, status, kind and user_id.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	var status repository.AlertStatus
	switch s := ctx.QueryParam("status"); s {
	case "", "all":
		status = repository.AlertStatusAll
	case string(repository.AlertStatusOpen), string(repository.AlertStatusClosed):
		status = repository.AlertStatus(s)
	default:
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid status, expected open, closed or all"})
	}

	limit, offset := paging(ctx)
	filter := repository.AlertFilter{
		GuildID:      ctx.QueryParam("guild_id"),
		TargetUserID: ctx.QueryParam("user_id"),
		Kind:         ctx.QueryParam("kind"),
		Status:       status,
		Limit:        limit,
		Offset:       offset,
	}
	return c.writeAlerts(ctx, filter)
}

func (c *Controller) listGuildAlerts(status repository.AlertStatus) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		limit, offset := paging(ctx)
		return c.writeAlerts(ctx, repository.AlertFilter{
			GuildID: ctx.Param("guild_id"),
			Kind:    ctx.QueryParam("kind"),
			Status:  status,
			Limit:   limit,
			Offset:  offset,
		})
	}
}

func (c *Controller) writeAlerts(ctx echo.Context, filter repository.AlertFilter) error {
	items, total, err := c.alerts.ListAlerts(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alerts", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAlert returns one alert with its evidence in detection order.
func (c *Controller) GetAlert(ctx echo.Context) error {
	alert, err := c.alerts.GetAlert(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert not found"})
		}
		return c.HandleError(ctx, err, "Failed to get alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, alert)
}
