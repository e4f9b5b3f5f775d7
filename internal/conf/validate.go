package conf

import (
	"fmt"
	"regexp"

	"github.com/colossusbot/modwatch/internal/errors"
)

// Validate checks settings for values the rest of the system cannot work with.
func (s *Settings) Validate() error {
	var errs []error

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("database.sqlite.path is required"))
		}
	case "mysql":
		if s.Database.MySQL.Database == "" || s.Database.MySQL.Host == "" {
			errs = append(errs, fmt.Errorf("database.mysql host and database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", s.Database.Driver))
	}

	switch s.Review.ConfirmMode {
	case ConfirmModeTwoStep, ConfirmModeCombined:
	default:
		errs = append(errs, fmt.Errorf("unsupported review.confirmmode %q", s.Review.ConfirmMode))
	}
	if s.Review.TTL.Std() <= 0 {
		errs = append(errs, fmt.Errorf("review.ttl must be positive"))
	}
	if s.Review.EscalateAfter < 0 {
		errs = append(errs, fmt.Errorf("review.escalateafter must not be negative"))
	}

	for _, p := range s.Detectors.FlaggedWords.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("invalid flagged word pattern %q: %w", p, err))
		}
	}

	in := s.Detectors.Inactivity
	if in.Enabled {
		if _, err := regexp.Compile(in.ChannelPattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid inactivity channel pattern %q: %w", in.ChannelPattern, err))
		}
		if in.WarnAfter.Std() <= 0 || in.CloseAfter.Std() <= in.WarnAfter.Std() {
			errs = append(errs, fmt.Errorf("inactivity thresholds must satisfy 0 < warnafter < closeafter"))
		}
	}

	switch s.Detectors.Repeated.Backend {
	case RepeatBackendMemory, RepeatBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unsupported repeated backend %q", s.Detectors.Repeated.Backend))
	}

	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, fmt.Errorf("sentry.dsn is required when sentry is enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("conf").
		Category(errors.CategoryValidation).
		Context("problems", len(errs)).
		Build()
}
