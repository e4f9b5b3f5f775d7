// Package conf loads and validates modwatch settings.
package conf

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/colossusbot/modwatch/internal/errors"
)

// EnvPrefix is the environment variable prefix, e.g. MODWATCH_DISCORD_TOKEN.
const EnvPrefix = "MODWATCH"

// Settings is the root configuration.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug" json:"debug"`

	Log           LogSettings          `mapstructure:"log" yaml:"log" json:"log"`
	Discord       DiscordSettings      `mapstructure:"discord" yaml:"discord" json:"-"`
	Database      DatabaseSettings     `mapstructure:"database" yaml:"database" json:"database"`
	Review        ReviewSettings       `mapstructure:"review" yaml:"review" json:"review"`
	Detectors     DetectorSettings     `mapstructure:"detectors" yaml:"detectors" json:"detectors"`
	Penalty       PenaltySettings      `mapstructure:"penalty" yaml:"penalty" json:"penalty"`
	Scheduler     SchedulerSettings    `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
	Redis         RedisSettings        `mapstructure:"redis" yaml:"redis" json:"-"`
	WebServer     WebServerSettings    `mapstructure:"webserver" yaml:"webserver" json:"webserver"`
	MQTT          MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt" json:"-"`
	Notifications NotificationSettings `mapstructure:"notifications" yaml:"notifications" json:"-"`
	Sentry        SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"-"`
}

type LogSettings struct {
	Level    string `mapstructure:"level" yaml:"level" json:"level"`
	Format   string `mapstructure:"format" yaml:"format" json:"format"` // json or text
	Timezone string `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

type DiscordSettings struct {
	Token string `mapstructure:"token" yaml:"token"`
	// NotifyRate limits staff notification posts per second across all guilds.
	NotifyRate  float64 `mapstructure:"notifyrate" yaml:"notifyrate"`
	NotifyBurst int     `mapstructure:"notifyburst" yaml:"notifyburst"`
}

type DatabaseSettings struct {
	Driver string         `mapstructure:"driver" yaml:"driver" json:"driver"` // sqlite or mysql
	SQLite SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite"`
	MySQL  MySQLSettings  `mapstructure:"mysql" yaml:"mysql" json:"-"`
	Debug  bool           `mapstructure:"debug" yaml:"debug" json:"debug"`
}

type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// Confirm modes.
const (
	ConfirmModeTwoStep  = "two_step"
	ConfirmModeCombined = "combined"
)

type ReviewSettings struct {
	// TTL is how long an unconfirmed alert stays open before it expires.
	TTL Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	// ConfirmMode selects whether a penalty needs a prior confirm reaction.
	ConfirmMode string `mapstructure:"confirmmode" yaml:"confirmmode" json:"confirmMode"`
	// EscalateAfter moves an alert to ESCALATED once it holds this much evidence. 0 disables.
	EscalateAfter int `mapstructure:"escalateafter" yaml:"escalateafter" json:"escalateAfter"`
	// ClaimTimeout releases penalty claims left behind by a crashed executor call.
	ClaimTimeout Duration `mapstructure:"claimtimeout" yaml:"claimtimeout" json:"claimTimeout"`
	// SweepBatch caps the alerts handled per sweep run.
	SweepBatch int `mapstructure:"sweepbatch" yaml:"sweepbatch" json:"sweepBatch"`
}

type DetectorSettings struct {
	FlaggedWords FlaggedWordSettings `mapstructure:"flaggedwords" yaml:"flaggedwords" json:"flaggedWords"`
	NSFW         NSFWSettings        `mapstructure:"nsfw" yaml:"nsfw" json:"nsfw"`
	Repeated     RepeatedSettings    `mapstructure:"repeated" yaml:"repeated" json:"repeated"`
	Inactivity   InactivitySettings  `mapstructure:"inactivity" yaml:"inactivity" json:"inactivity"`
}

type FlaggedWordSettings struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Phrases  []string `mapstructure:"phrases" yaml:"phrases" json:"phrases"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns" json:"patterns"`
}

type NSFWSettings struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Terms           []string `mapstructure:"terms" yaml:"terms" json:"terms"`
	ImageExtensions []string `mapstructure:"imageextensions" yaml:"imageextensions" json:"imageExtensions"`
}

// Repeated-message index backends.
const (
	RepeatBackendMemory = "memory"
	RepeatBackendRedis  = "redis"
)

type RepeatedSettings struct {
	Enabled             bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MinWordCount        int      `mapstructure:"minwordcount" yaml:"minwordcount" json:"minWordCount"`
	SingleUserThreshold int      `mapstructure:"singleuserthreshold" yaml:"singleuserthreshold" json:"singleUserThreshold"`
	Window              Duration `mapstructure:"window" yaml:"window" json:"window"`
	Capacity            int      `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	Backend             string   `mapstructure:"backend" yaml:"backend" json:"backend"`
}

type InactivitySettings struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ChannelPattern string   `mapstructure:"channelpattern" yaml:"channelpattern" json:"channelPattern"`
	WarnAfter      Duration `mapstructure:"warnafter" yaml:"warnafter" json:"warnAfter"`
	CloseAfter     Duration `mapstructure:"closeafter" yaml:"closeafter" json:"closeAfter"`
	Capacity       int      `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
}

type PenaltySettings struct {
	MuteDuration       Duration `mapstructure:"muteduration" yaml:"muteduration" json:"muteDuration"`
	BanDeleteDays      int      `mapstructure:"bandeletedays" yaml:"bandeletedays" json:"banDeleteDays"`
	NotifyTargetOnWarn bool     `mapstructure:"notifytargetonwarn" yaml:"notifytargetonwarn" json:"notifyTargetOnWarn"`
}

type SchedulerSettings struct {
	InactivityInterval  Duration `mapstructure:"inactivityinterval" yaml:"inactivityinterval" json:"inactivityInterval"`
	ExpiryInterval      Duration `mapstructure:"expiryinterval" yaml:"expiryinterval" json:"expiryInterval"`
	NotifyRetryInterval Duration `mapstructure:"notifyretryinterval" yaml:"notifyretryinterval" json:"notifyRetryInterval"`
	// RunTimeout bounds a single job run.
	RunTimeout Duration `mapstructure:"runtimeout" yaml:"runtimeout" json:"runTimeout"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" json:"listen"`
	// Token guards mutating endpoints. Empty disables them.
	Token string `mapstructure:"token" yaml:"token" json:"-"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"clientid" yaml:"clientid"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topicprefix" yaml:"topicprefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
	Retain      bool   `mapstructure:"retain" yaml:"retain"`
}

type NotificationSettings struct {
	// URLs are shoutrrr service URLs that receive new-alert pushes.
	URLs []string `mapstructure:"urls" yaml:"urls"`
	// Events limits which lifecycle events are pushed. Empty means alert.created only.
	Events []string `mapstructure:"events" yaml:"events"`
}

type SentrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"samplerate" yaml:"samplerate"`
}

// Load reads settings from configPath (optional), the environment and defaults.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/modwatch")
		v.AddConfigPath("/etc/modwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, errors.Newf("failed to read config: %w", err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("path", configPath).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("failed to decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
