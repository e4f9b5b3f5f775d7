package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	api "github.com/colossusbot/modwatch/internal/api/v2"
	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/datastore"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/detectors"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/guildconfig"
	"github.com/colossusbot/modwatch/internal/logger"
	"github.com/colossusbot/modwatch/internal/moderation"
	"github.com/colossusbot/modwatch/internal/mqtt"
	"github.com/colossusbot/modwatch/internal/notification"
	"github.com/colossusbot/modwatch/internal/observability/metrics"
	"github.com/colossusbot/modwatch/internal/penalty"
	"github.com/colossusbot/modwatch/internal/platform/discord"
	"github.com/colossusbot/modwatch/internal/scheduler"
	"github.com/colossusbot/modwatch/internal/telemetry"
)

const (
	guildConfigTTL    = time.Minute
	staffCacheTTL     = 5 * time.Minute
	pushSendTimeout   = 10 * time.Second
	redisPingTimeout  = 5 * time.Second
	sessionOpenPeriod = 30 * time.Second
)

func serveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := setup(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, opts.version, log)
		},
	}
}

// serve runs the bot until ctx is cancelled.
func serve(ctx context.Context, settings *conf.Settings, version string, log logger.Logger) error {
	log.Info("starting modwatch", logger.String("version", version))

	flush, err := telemetry.Init(&settings.Sentry, version, log)
	if err != nil {
		return err
	}
	defer flush()

	db, err := datastore.Open(&settings.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := datastore.Close(db); err != nil {
			log.Warn("failed to close database", logger.Error(err))
		}
	}()
	if err := datastore.Migrate(db); err != nil {
		return err
	}

	alerts := repository.NewAlertRepository(db)
	guildRepo := repository.NewGuildRepository(db)
	warnings := repository.NewWarningRepository(db)
	guilds := guildconfig.NewProvider(guildRepo, guildConfigTTL)

	var redisClient redis.UniversalClient
	if settings.Detectors.Repeated.Enabled && settings.Detectors.Repeated.Backend == conf.RepeatBackendRedis {
		redisClient, err = newRedisClient(ctx, &settings.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	dets, inactivity, err := buildDetectors(&settings.Detectors, guilds, guildRepo, redisClient, settings.Redis.Prefix, log)
	if err != nil {
		return err
	}

	session, err := discord.NewSession(&settings.Discord)
	if err != nil {
		return errors.New(err).
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	client := discord.NewClient(session, log)
	staff := discord.NewStaffOracle(session, guilds, staffCacheTTL)
	penalties := penalty.NewExecutor(penalty.Config{
		MuteDuration:  settings.Penalty.MuteDuration.Std(),
		BanDeleteDays: settings.Penalty.BanDeleteDays,
		NotifyTarget:  settings.Penalty.NotifyTargetOnWarn,
	}, client, guilds, warnings, log)

	bus := moderation.NewEventBus()
	defer bus.Stop()

	deps := moderation.Dependencies{
		Alerts:    alerts,
		Guilds:    guilds,
		Client:    client,
		Staff:     staff,
		Penalties: penalties,
		Detectors: dets,
		Bus:       bus,
		Log:       log,
	}
	var tickets discord.TicketTracker
	if inactivity != nil {
		deps.Inactivity = inactivity
		tickets = inactivity
	}
	engine := moderation.NewEngine(engineConfig(settings), deps)

	dispatcher := moderation.NewGuildDispatcher(log)
	defer dispatcher.Stop()

	m := metrics.New()
	m.Subscribe(bus)
	m.Gauge("active_guild_workers", "Guilds with a running event worker.", func() float64 {
		return float64(dispatcher.ActiveGuilds())
	})
	m.Gauge("lifecycle_events_dropped", "Lifecycle events dropped because the bus was full.", func() float64 {
		return float64(bus.Dropped())
	})

	sched, err := newScheduler(settings, engine, inactivity != nil, m, log)
	if err != nil {
		return err
	}

	if settings.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&settings.MQTT, log)
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect()
		publisher := mqtt.NewPublisher(mqttClient, settings.MQTT.TopicPrefix, log)
		publisher.Subscribe(bus)
		m.Gauge("mqtt_publish_failures", "Lifecycle events that could not be published to MQTT.", func() float64 {
			return float64(publisher.Failed())
		})
	}

	if len(settings.Notifications.URLs) > 0 {
		provider := notification.NewShoutrrrProvider("push", settings.Notifications.URLs, pushSendTimeout)
		if err := provider.ValidateConfig(); err != nil {
			return err
		}
		push := notification.NewService([]notification.Provider{provider}, settings.Notifications.Events, log)
		push.Subscribe(bus)
		// drain the bus first so pending events still reach the push queue
		defer func() {
			bus.Stop()
			push.Stop()
		}()
	}

	var server *api.Server
	if settings.WebServer.Enabled {
		server = newAPIServer(settings, db, alerts, warnings, guildRepo, guilds, bus, m, log)
	}

	removeHandlers := discord.NewGateway(session, engine, dispatcher, tickets, log).Register()
	defer removeHandlers()

	if err := openSession(ctx, session, sessionOpenPeriod); err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close discord session", logger.Error(err))
		}
	}()
	log.Info("connected to discord", logger.Int("guilds", len(session.State.Guilds)))

	g, gctx := errgroup.WithContext(ctx)
	sched.Start(gctx)
	defer sched.Stop()

	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}

func engineConfig(settings *conf.Settings) moderation.Config {
	cfg := moderation.Config{
		TTL:           settings.Review.TTL.Std(),
		ConfirmMode:   settings.Review.ConfirmMode,
		EscalateAfter: settings.Review.EscalateAfter,
		ClaimTimeout:  settings.Review.ClaimTimeout.Std(),
		SweepBatch:    settings.Review.SweepBatch,
	}
	if settings.Discord.NotifyRate > 0 {
		burst := max(settings.Discord.NotifyBurst, 1)
		cfg.NotifyLimiter = rate.NewLimiter(rate.Limit(settings.Discord.NotifyRate), burst)
	}
	return cfg
}

// buildDetectors creates the enabled detectors. The inactivity detector is
// also returned on its own because the sweep and the gateway need it; it is
// nil when disabled.
func buildDetectors(settings *conf.DetectorSettings, guilds moderation.GuildConfigProvider, paused detectors.PausedLookup,
	redisClient redis.UniversalClient, redisPrefix string, log logger.Logger,
) ([]moderation.Detector, *detectors.Inactivity, error) {
	var dets []moderation.Detector

	if fw := settings.FlaggedWords; fw.Enabled {
		d, err := detectors.NewFlaggedWords(fw.Phrases, fw.Patterns)
		if err != nil {
			return nil, nil, detectorError(err, "flagged-words")
		}
		dets = append(dets, d)
	}

	if nsfw := settings.NSFW; nsfw.Enabled {
		// No image scanner is bound; images match on filename only.
		dets = append(dets, detectors.NewNSFW(nsfw.Terms, nsfw.ImageExtensions, nil, log))
	}

	if rep := settings.Repeated; rep.Enabled {
		var index detectors.ContentIndex
		if rep.Backend == conf.RepeatBackendRedis {
			if redisClient == nil {
				return nil, nil, detectorError(fmt.Errorf("redis backend selected but no redis client"), "repeated-message")
			}
			index = detectors.NewRedisIndex(redisClient, redisPrefix+":", rep.Window.Std())
		} else {
			mem, err := detectors.NewMemoryIndex(rep.Capacity, rep.Window.Std())
			if err != nil {
				return nil, nil, detectorError(err, "repeated-message")
			}
			index = mem
		}
		dets = append(dets, detectors.NewRepeated(index, guilds, detectors.RepeatedConfig{
			MinWordCount:        rep.MinWordCount,
			SingleUserThreshold: rep.SingleUserThreshold,
		}))
	}

	var inactivity *detectors.Inactivity
	if in := settings.Inactivity; in.Enabled {
		pattern, err := regexp.Compile(in.ChannelPattern)
		if err != nil {
			return nil, nil, detectorError(err, "inactivity")
		}
		inactivity, err = detectors.NewInactivity(detectors.InactivityConfig{
			ChannelPattern: pattern,
			WarnAfter:      in.WarnAfter.Std(),
			CloseAfter:     in.CloseAfter.Std(),
			Capacity:       in.Capacity,
		}, paused, log)
		if err != nil {
			return nil, nil, detectorError(err, "inactivity")
		}
		dets = append(dets, inactivity)
	}

	return dets, inactivity, nil
}

func detectorError(err error, name string) error {
	return errors.New(err).
		Component("serve").
		Category(errors.CategoryConfiguration).
		Context("detector", name).
		Build()
}

// newScheduler registers the maintenance jobs. The inactivity sweep is only
// registered when the detector is enabled.
func newScheduler(settings *conf.Settings, engine *moderation.Engine, inactivity bool, rec scheduler.Recorder, log logger.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(log,
		scheduler.WithRunTimeout(settings.Scheduler.RunTimeout.Std()),
		scheduler.WithRecorder(rec))

	jobs := []scheduler.Job{
		{Name: scheduler.JobAlertExpiry, Interval: settings.Scheduler.ExpiryInterval.Std(), Run: engine.RunExpiry},
		{Name: scheduler.JobNotificationRetry, Interval: settings.Scheduler.NotifyRetryInterval.Std(), Run: func(ctx context.Context) error {
			_, err := engine.RetryNotifications(ctx)
			return err
		}},
	}
	if inactivity {
		jobs = append(jobs, scheduler.Job{
			Name:     scheduler.JobInactivitySweep,
			Interval: settings.Scheduler.InactivityInterval.Std(),
			Run:      engine.SweepInactivity,
		})
	}
	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func newAPIServer(settings *conf.Settings, db *gorm.DB, alerts repository.AlertRepository, warnings repository.WarningRepository,
	guildRepo repository.GuildRepository, configs *guildconfig.Provider, bus *moderation.EventBus, m *metrics.Metrics, log logger.Logger,
) *api.Server {
	hub := api.NewStreamHub(log)
	hub.Subscribe(bus)
	m.Gauge("stream_clients", "Connected lifecycle stream clients.", func() float64 {
		return float64(hub.Clients())
	})

	server := api.NewServer(settings.WebServer.Listen, log)
	api.New(server.Echo, api.Deps{
		Alerts:   alerts,
		Warnings: warnings,
		Guilds:   guildRepo,
		Configs:  configs,
		Stream:   hub,
		Metrics:  m.Handler(),
		DBPing: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		Token: settings.WebServer.Token,
	}, log)
	return server
}

func newRedisClient(ctx context.Context, settings *conf.RedisSettings) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     settings.Addr,
		Password: settings.Password,
		DB:       settings.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Newf("failed to reach redis: %w", err).
			Component("serve").
			Category(errors.CategoryNetwork).
			Context("addr", settings.Addr).
			Build()
	}
	return client, nil
}

// gatewayConn is the part of *discordgo.Session that openSession drives.
type gatewayConn interface {
	Open() error
	Close() error
}

// openSession opens the gateway connection, giving up when ctx ends or the
// timeout passes first. A connection that completes after giving up is closed.
func openSession(ctx context.Context, conn gatewayConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Open() }()
	select {
	case err := <-done:
		if err != nil {
			return errors.Newf("failed to open discord session: %w", err).
				Component("serve").
				Category(errors.CategoryNetwork).
				Build()
		}
		return nil
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = conn.Close()
			}
		}()
		return errors.Newf("failed to open discord session: %w", ctx.Err()).
			Component("serve").
			Category(errors.CategoryNetwork).
			Build()
	}
}
