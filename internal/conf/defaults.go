package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared by setDefaults and Defaults.
const (
	DefaultAlertTTL            = 24 * time.Hour
	DefaultClaimTimeout        = 2 * time.Minute
	DefaultEscalateAfter       = 3
	DefaultSweepBatch          = 100
	DefaultMinWordCount        = 5
	DefaultSingleUserThreshold = 5
	DefaultRepeatWindow        = 24 * time.Hour
	DefaultRepeatCapacity      = 10000
	DefaultTicketPattern       = `^ticket-\d+$`
	DefaultInactivityWarn      = 60 * time.Minute
	DefaultInactivityClose     = 120 * time.Minute
	DefaultInactivityCapacity  = 5000
	DefaultInactivityInterval  = 5 * time.Minute
	DefaultExpiryInterval      = time.Minute
	DefaultNotifyRetryInterval = time.Minute
	DefaultRunTimeout          = 2 * time.Minute
	DefaultMuteDuration        = time.Hour
	DefaultListen              = ":8119"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.timezone", "")

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.notifyrate", 5.0)
	v.SetDefault("discord.notifyburst", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "modwatch.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "modwatch")
	v.SetDefault("database.debug", false)

	v.SetDefault("review.ttl", DefaultAlertTTL.String())
	v.SetDefault("review.confirmmode", ConfirmModeTwoStep)
	v.SetDefault("review.escalateafter", DefaultEscalateAfter)
	v.SetDefault("review.claimtimeout", DefaultClaimTimeout.String())
	v.SetDefault("review.sweepbatch", DefaultSweepBatch)

	v.SetDefault("detectors.flaggedwords.enabled", true)
	v.SetDefault("detectors.flaggedwords.phrases", []string{})
	v.SetDefault("detectors.flaggedwords.patterns", []string{})

	v.SetDefault("detectors.nsfw.enabled", true)
	v.SetDefault("detectors.nsfw.terms", []string{})
	v.SetDefault("detectors.nsfw.imageextensions", []string{".png", ".jpg", ".jpeg", ".gif", ".webp"})

	v.SetDefault("detectors.repeated.enabled", true)
	v.SetDefault("detectors.repeated.minwordcount", DefaultMinWordCount)
	v.SetDefault("detectors.repeated.singleuserthreshold", DefaultSingleUserThreshold)
	v.SetDefault("detectors.repeated.window", DefaultRepeatWindow.String())
	v.SetDefault("detectors.repeated.capacity", DefaultRepeatCapacity)
	v.SetDefault("detectors.repeated.backend", RepeatBackendMemory)

	v.SetDefault("detectors.inactivity.enabled", true)
	v.SetDefault("detectors.inactivity.channelpattern", DefaultTicketPattern)
	v.SetDefault("detectors.inactivity.warnafter", DefaultInactivityWarn.String())
	v.SetDefault("detectors.inactivity.closeafter", DefaultInactivityClose.String())
	v.SetDefault("detectors.inactivity.capacity", DefaultInactivityCapacity)

	v.SetDefault("penalty.muteduration", DefaultMuteDuration.String())
	v.SetDefault("penalty.bandeletedays", 0)
	v.SetDefault("penalty.notifytargetonwarn", true)

	v.SetDefault("scheduler.inactivityinterval", DefaultInactivityInterval.String())
	v.SetDefault("scheduler.expiryinterval", DefaultExpiryInterval.String())
	v.SetDefault("scheduler.notifyretryinterval", DefaultNotifyRetryInterval.String())
	v.SetDefault("scheduler.runtimeout", DefaultRunTimeout.String())

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "modwatch")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", DefaultListen)
	v.SetDefault("webserver.token", "")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicprefix", "modwatch")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notifications.urls", []string{})
	v.SetDefault("notifications.events", []string{})

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.samplerate", 1.0)
}

// Defaults returns settings populated with default values only.
func Defaults() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook()))
	return s
}
