package moderation

import (
	"github.com/colossusbot/modwatch/internal/errors"
)

// Fault sentinels. Engine errors wrap exactly one of these.
var (
	ErrDetectorFault        = errors.NewStd("detector fault")
	ErrNotificationDelivery = errors.NewStd("notification delivery failed")
	ErrConcurrentTransition = errors.NewStd("concurrent transition rejected")
	ErrPenaltyExecution     = errors.NewStd("penalty execution failed")
	ErrStoreUnavailable     = errors.NewStd("alert store unavailable")
	errGuildNotConfigured   = errors.NewStd("guild has no review channel configured")
)

const componentEngine = "moderation"

func detectorFault(name string, cause error) error {
	return errors.Newf("detector %s failed: %w: %w", name, ErrDetectorFault, cause).
		Component(componentEngine).
		Category(errors.CategoryDetector).
		Context("detector", name).
		Build()
}

func notificationFault(alertID string, cause error) error {
	return errors.Newf("failed to notify staff of alert %s: %w: %w", alertID, ErrNotificationDelivery, cause).
		Component(componentEngine).
		Category(errors.CategoryNotification).
		Context("alert_id", alertID).
		Build()
}

func storeFault(op string, cause error) error {
	return errors.Newf("failed to %s: %w: %w", op, ErrStoreUnavailable, cause).
		Component(componentEngine).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

func penaltyFault(alertID string, action Action, cause error) error {
	return errors.Newf("failed to apply %s for alert %s: %w: %w", action, alertID, ErrPenaltyExecution, cause).
		Component(componentEngine).
		Category(errors.CategoryPenalty).
		Context("alert_id", alertID).
		Context("action", string(action)).
		Build()
}
