// Package telemetry forwards selected errors to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

const flushTimeout = 2 * time.Second

// reportedCategories are the error categories worth an operator's attention.
// Validation, not-found and conflict errors are expected traffic.
var reportedCategories = map[errors.ErrorCategory]bool{
	errors.CategoryDatabase:      true,
	errors.CategoryPenalty:       true,
	errors.CategorySystem:        true,
	errors.CategoryDetector:      true,
	errors.CategoryConfiguration: true,
}

// Capturer is the subset of the sentry hub used here.
type Capturer interface {
	CaptureEvent(event *sentry.Event) *sentry.EventID
}

// Init configures Sentry and installs the error reporter. The returned func flushes
// pending events and must be called on shutdown.
func Init(settings *conf.SentrySettings, version string, log logger.Logger) (func(), error) {
	if !settings.Enabled {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          "modwatch@" + version,
		SampleRate:       settings.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, errors.Newf("failed to initialize sentry: %w", err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	errors.SetReporter(NewReporter(sentry.CurrentHub()))
	log.Info("sentry telemetry enabled", logger.String("environment", settings.Environment))

	return func() {
		errors.SetReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// NewReporter converts enhanced errors of reportable categories into Sentry events.
func NewReporter(c Capturer) errors.Reporter {
	return func(ee *errors.EnhancedError) {
		if !reportedCategories[ee.GetCategory()] {
			return
		}
		c.CaptureEvent(toEvent(ee))
	}
}

func toEvent(ee *errors.EnhancedError) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = ee.Error()
	event.Timestamp = ee.GetTimestamp()
	event.Tags = map[string]string{
		"component": ee.GetComponent(),
		"category":  string(ee.GetCategory()),
	}
	if ctx := ee.GetContext(); len(ctx) > 0 {
		event.Contexts = map[string]sentry.Context{"error": ctx}
	}
	return event
}
