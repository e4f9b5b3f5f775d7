// Package api implements the /api/v2 HTTP surface: alert and warning
// queries, guild configuration, paused ticket channels, the live lifecycle
// stream, health and metrics.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// GuildConfigStore reads and writes guild configuration, usually through the
// cached provider.
type GuildConfigStore interface {
	GuildConfig(ctx context.Context, guildID string) (*entities.GuildConfig, error)
	Save(ctx context.Context, cfg *entities.GuildConfig) error
}

// Deps are the collaborators served by the controller. Metrics and DBPing may be nil.
type Deps struct {
	Alerts   repository.AlertRepository
	Warnings repository.WarningRepository
	Guilds   repository.GuildRepository
	Configs  GuildConfigStore
	Stream   *StreamHub
	Metrics  http.Handler
	DBPing   func(ctx context.Context) error
	// Token guards mutating endpoints. Empty disables them.
	Token string
}

// Controller owns the /api/v2 routes.
type Controller struct {
	Group *echo.Group

	alerts   repository.AlertRepository
	warnings repository.WarningRepository
	guilds   repository.GuildRepository
	configs  GuildConfigStore
	stream   *StreamHub
	metrics  http.Handler
	dbPing   func(ctx context.Context) error
	token    string

	log       logger.Logger
	startedAt time.Time
}

// New registers every route on e under /api/v2.
func New(e *echo.Echo, deps Deps, log logger.Logger) *Controller {
	c := &Controller{
		Group:     e.Group("/api/v2"),
		alerts:    deps.Alerts,
		warnings:  deps.Warnings,
		guilds:    deps.Guilds,
		configs:   deps.Configs,
		stream:    deps.Stream,
		metrics:   deps.Metrics,
		dbPing:    deps.DBPing,
		token:     deps.Token,
		log:       log.Module("api"),
		startedAt: time.Now(),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.Health)
	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics))
	}

	c.initAlertRoutes()
	c.initGuildRoutes()
	if c.stream != nil {
		c.Group.GET("/alerts/stream", c.stream.HandleStream)
	}
}

// authMiddleware accepts "Authorization: Bearer <token>" matching the configured token.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	if c.token == "" {
		return func(ctx echo.Context) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{"error": "Mutating endpoints are disabled"})
		}
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(c.token)) == 1, nil
		},
	})(next)
}

// HandleError logs err and writes a JSON error body with message.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	c.log.Error(message,
		logger.String("path", ctx.Path()),
		logger.Int("status", code),
		logger.Error(err))
	return ctx.JSON(code, map[string]string{"error": message})
}

// paging reads limit and offset. Invalid values fall back to the defaults.
func paging(ctx echo.Context) (limit, offset int) {
	limit = defaultListLimit
	if v, ok := intParam(ctx, "limit"); ok && v > 0 {
		limit = min(v, maxListLimit)
	}
	if v, ok := intParam(ctx, "offset"); ok && v >= 0 {
		offset = v
	}
	return limit, offset
}

func intParam(ctx echo.Context, name string) (int, bool) {
	v, err := strconv.Atoi(ctx.QueryParam(name))
	if err != nil {
		return 0, false
	}
	return v, true
}
