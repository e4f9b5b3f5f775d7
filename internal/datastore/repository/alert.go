package repository

import (
	"context"
	"time"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
)

var (
	// ErrAlertNotFound is returned when no alert matches the lookup.
	ErrAlertNotFound = errors.NewStd("alert not found")
	// ErrVersionConflict is returned when a compare-and-swap lost against a concurrent writer.
	ErrVersionConflict = errors.NewStd("alert version conflict")
	// ErrInvalidTransition is returned when a requested change would break an alert invariant.
	ErrInvalidTransition = errors.NewStd("invalid alert transition")
)

// AlertRepository is the durable alert store. It is the only writer of alert rows.
type AlertRepository interface {
	// OpenOrAppend creates an open alert for (guild, target, kind) or folds the
	// evidence into the existing open one. created reports which happened.
	OpenOrAppend(ctx context.Context, alert *entities.Alert, evidence *entities.AlertEvidence) (result *entities.Alert, created bool, err error)

	GetAlert(ctx context.Context, id string) (*entities.Alert, error)
	FindByNotification(ctx context.Context, messageID string) (*entities.Alert, error)

	// SetNotification records the delivered staff message. Only alerts without one are updated.
	SetNotification(ctx context.Context, id, channelID, messageID string) error
	// MarkNotifyAttempt records a failed notification attempt so retries rotate
	// through undelivered alerts. Like SetNotification it leaves the version alone.
	MarkNotifyAttempt(ctx context.Context, id string, at time.Time) error

	// Transition applies t if the stored version still equals expectedVersion.
	// On success alert is updated in place to mirror the stored row.
	Transition(ctx context.Context, alert *entities.Alert, t AlertTransition) error

	ListAlerts(ctx context.Context, filter AlertFilter) ([]entities.Alert, int64, error)
	ListExpirable(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Alert, error)
	// ListUnnotified returns undelivered open alerts created at or before
	// createdBefore, least recently attempted first.
	ListUnnotified(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Alert, error)
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]entities.Alert, error)
}

// AlertStatus selects open or closed alerts.
type AlertStatus string

const (
	AlertStatusAll    AlertStatus = ""
	AlertStatusOpen   AlertStatus = "open"
	AlertStatusClosed AlertStatus = "closed"
)

// AlertFilter controls alert listing queries.
type AlertFilter struct {
	GuildID      string
	TargetUserID string
	Kind         string
	Status       AlertStatus
	WithEvidence bool
	Limit        int
	Offset       int
}

// AlertTransition describes one compare-and-swap update. Nil fields are left untouched.
type AlertTransition struct {
	State           *string
	AwaitingPenalty *bool

	// Claim sets PendingAction, ClaimedBy and ClaimedAt together.
	Claim *PenaltyClaim
	// ReleaseClaim clears a penalty claim.
	ReleaseClaim bool

	PenaltyApplied *string
	// Resolve sets resolved_at and resolved_by; only valid with a terminal State.
	Resolve *Resolution
}

// PenaltyClaim reserves the single penalty execution of an alert.
type PenaltyClaim struct {
	Action    string
	ClaimedBy string
	ClaimedAt time.Time
}

// Resolution records who closed an alert and when.
type Resolution struct {
	By string
	At time.Time
}
