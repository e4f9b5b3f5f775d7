package moderation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

const (
	defaultTTL            = 24 * time.Hour
	defaultClaimTimeout   = 2 * time.Minute
	defaultEscalateAfter  = 3
	defaultSweepBatch     = 100
	defaultPenaltyTimeout = 30 * time.Second
	// notifyGrace keeps the retry sweep away from alerts whose first
	// notification attempt may still be in flight.
	notifyGrace = 30 * time.Second
)

// Config tunes the workflow.
type Config struct {
	// TTL after which a never-confirmed open alert expires.
	TTL         time.Duration
	ConfirmMode string
	// EscalateAfter is the evidence count at which an OPEN alert becomes ESCALATED.
	// Zero disables escalation.
	EscalateAfter  int
	ClaimTimeout   time.Duration
	SweepBatch     int
	PenaltyTimeout time.Duration
	// NotifyLimiter throttles staff notifications. Nil means unlimited.
	NotifyLimiter *rate.Limiter
}

func (c *Config) withDefaults() {
	if c.TTL <= 0 {
		c.TTL = defaultTTL
	}
	if c.ConfirmMode == "" {
		c.ConfirmMode = ConfirmModeTwoStep
	}
	if c.EscalateAfter < 0 {
		c.EscalateAfter = defaultEscalateAfter
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = defaultClaimTimeout
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = defaultSweepBatch
	}
	if c.PenaltyTimeout <= 0 {
		c.PenaltyTimeout = defaultPenaltyTimeout
	}
}

// Dependencies are the collaborators of an Engine. Inactivity and Bus are optional.
type Dependencies struct {
	Alerts     repository.AlertRepository
	Guilds     GuildConfigProvider
	Client     ActionClient
	Staff      StaffOracle
	Penalties  PenaltyApplier
	Detectors  []Detector
	Inactivity InactivitySweeper
	Bus        *EventBus
	Log        logger.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine drives alerts from detection to resolution. It holds no alert state
// of its own; every decision is made against the store.
type Engine struct {
	cfg        Config
	alerts     repository.AlertRepository
	guilds     GuildConfigProvider
	client     ActionClient
	staff      StaffOracle
	penalties  PenaltyApplier
	detectors  []Detector
	inactivity InactivitySweeper
	bus        *EventBus
	log        logger.Logger
	now        func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	cfg.withDefaults()
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		alerts:     deps.Alerts,
		guilds:     deps.Guilds,
		client:     deps.Client,
		staff:      deps.Staff,
		penalties:  deps.Penalties,
		detectors:  deps.Detectors,
		inactivity: deps.Inactivity,
		bus:        deps.Bus,
		log:        deps.Log.Module("engine"),
		now:        deps.Now,
	}
}

// ConfirmMode returns the active confirm mode.
func (e *Engine) ConfirmMode() string {
	return e.cfg.ConfirmMode
}

// HandleMessage runs every detector over msg and feeds the violations into the
// workflow. A failing detector is reported and skipped; the others still run.
// The returned error joins all faults and is informational only.
func (e *Engine) HandleMessage(ctx context.Context, msg *MessageEvent) error {
	if msg.AuthorIsBot || msg.GuildID == "" {
		return nil
	}

	var faults []error
	for _, det := range e.detectors {
		violations, err := e.evaluate(ctx, det, msg)
		if err != nil {
			faults = append(faults, err)
			continue
		}
		for i := range violations {
			if err := e.HandleViolation(ctx, &violations[i]); err != nil {
				faults = append(faults, err)
			}
		}
	}
	return errors.Join(faults...)
}

// evaluate isolates one detector: errors and panics become a DetectorFault.
func (e *Engine) evaluate(ctx context.Context, det Detector, msg *MessageEvent) (violations []Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = detectorFault(det.Name(), fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			e.log.Error("detector failed",
				logger.String("detector", det.Name()),
				logger.String("guild_id", msg.GuildID),
				logger.String("message_id", msg.ID),
				logger.Error(err))
			e.bus.Publish(&LifecycleEvent{
				Type:      EventDetectorFault,
				GuildID:   msg.GuildID,
				ChannelID: msg.ChannelID,
				Detail:    det.Name(),
			})
			violations = nil
		}
	}()

	violations, err = det.Evaluate(ctx, msg)
	if err != nil {
		err = detectorFault(det.Name(), err)
	}
	return violations, err
}

// HandleViolation routes a violation. Ticket kinds go to the channel itself;
// everything else opens or folds into a staff-review alert.
func (e *Engine) HandleViolation(ctx context.Context, v *Violation) error {
	if v.DetectedAt.IsZero() {
		v.DetectedAt = e.now()
	}
	switch v.Kind {
	case KindInactivityWarn:
		return e.remindTicket(ctx, v)
	case KindInactivityClose:
		return e.closeTicket(ctx, v)
	}
	if v.AuthorID == "" {
		e.log.Warn("dropping violation without author",
			logger.String("kind", string(v.Kind)),
			logger.String("guild_id", v.GuildID))
		return nil
	}
	return e.openOrFold(ctx, v)
}

func (e *Engine) openOrFold(ctx context.Context, v *Violation) error {
	tmpl := &entities.Alert{
		GuildID:         v.GuildID,
		ChannelID:       v.ChannelID,
		TargetUserID:    v.AuthorID,
		Kind:            string(v.Kind),
		SourceMessageID: v.SourceMessageID,
		CreatedAt:       v.DetectedAt,
	}
	evidence := &entities.AlertEvidence{
		SourceMessageID: v.SourceMessageID,
		ChannelID:       v.ChannelID,
		Detail:          v.Evidence,
		DetectedAt:      v.DetectedAt,
	}

	alert, created, err := e.alerts.OpenOrAppend(ctx, tmpl, evidence)
	if err != nil {
		fault := storeFault("record violation", err)
		e.log.Error("dropping violation, alert store unavailable",
			logger.String("kind", string(v.Kind)),
			logger.String("guild_id", v.GuildID),
			logger.String("user_id", v.AuthorID),
			logger.Error(fault))
		e.bus.Publish(&LifecycleEvent{Type: EventStoreUnavailable, GuildID: v.GuildID, Kind: v.Kind, Detail: "record violation"})
		return fault
	}

	if !created {
		e.log.Debug("violation folded into open alert",
			logger.String("alert_id", alert.ID),
			logger.Int("evidence_count", alert.EvidenceCount))
		e.publishAlert(EventAlertFolded, alert, "", "", v.Evidence)
		e.maybeEscalate(ctx, alert)
		return nil
	}

	e.log.Info("alert opened",
		logger.String("alert_id", alert.ID),
		logger.String("kind", alert.Kind),
		logger.String("guild_id", alert.GuildID),
		logger.String("user_id", alert.TargetUserID))
	e.publishAlert(EventAlertCreated, alert, "", "", v.Evidence)

	return e.notify(ctx, alert, []string{v.Evidence})
}

// maybeEscalate moves an OPEN alert to ESCALATED once enough evidence accumulated.
// Losing the race is harmless: the next fold retries.
func (e *Engine) maybeEscalate(ctx context.Context, alert *entities.Alert) {
	if e.cfg.EscalateAfter <= 0 || alert.State != StateOpen || alert.EvidenceCount < e.cfg.EscalateAfter {
		return
	}
	state := StateEscalated
	err := e.alerts.Transition(ctx, alert, repository.AlertTransition{State: &state})
	switch {
	case err == nil:
		e.log.Info("alert escalated",
			logger.String("alert_id", alert.ID),
			logger.Int("evidence_count", alert.EvidenceCount))
		e.publishAlert(EventAlertEscalated, alert, "", "", "")
		if alert.HasNotification() {
			e.followUp(ctx, *alert.NotificationChannelID, escalationText(alert))
		}
	case errors.Is(err, repository.ErrVersionConflict):
		e.log.Debug("escalation lost race", logger.String("alert_id", alert.ID))
	default:
		e.log.Warn("failed to escalate alert", logger.String("alert_id", alert.ID), logger.Error(err))
	}
}

// notify posts the staff notification and attaches the reaction options.
// On failure the alert stays open without a notification and the retry
// sweep picks it up.
func (e *Engine) notify(ctx context.Context, alert *entities.Alert, evidence []string) error {
	channelID, err := e.reviewChannel(ctx, alert.GuildID)
	if err == nil && e.cfg.NotifyLimiter != nil {
		err = e.cfg.NotifyLimiter.Wait(ctx)
	}
	var messageID string
	if err == nil {
		messageID, err = e.client.PostMessage(ctx, channelID, notificationText(alert, evidence, e.cfg.ConfirmMode))
	}
	if err != nil {
		fault := notificationFault(alert.ID, err)
		e.log.Warn("staff notification not delivered",
			logger.String("alert_id", alert.ID),
			logger.String("guild_id", alert.GuildID),
			logger.Error(fault))
		e.publishAlert(EventNotificationFailed, alert, "", "", err.Error())
		if err := e.alerts.MarkNotifyAttempt(ctx, alert.ID, e.now()); err != nil {
			e.log.Warn("failed to record notification attempt",
				logger.String("alert_id", alert.ID),
				logger.Error(err))
		}
		return fault
	}

	if err := e.alerts.SetNotification(ctx, alert.ID, channelID, messageID); err != nil {
		// Another attempt already recorded a notification, or the store is down;
		// either way this message cannot be reacted to.
		e.log.Warn("failed to record notification message",
			logger.String("alert_id", alert.ID),
			logger.String("message_id", messageID),
			logger.Error(err))
		if !errors.Is(err, repository.ErrVersionConflict) {
			return storeFault("record notification", err)
		}
		return nil
	}
	alert.NotificationChannelID = &channelID
	alert.NotificationMessageID = &messageID

	if err := e.client.AddReactionOptions(ctx, channelID, messageID, e.initialOptions()); err != nil {
		e.log.Warn("failed to add reaction options",
			logger.String("alert_id", alert.ID),
			logger.Error(err))
	}
	e.publishAlert(EventAlertNotified, alert, "", "", "")
	return nil
}

func (e *Engine) initialOptions() []string {
	if e.cfg.ConfirmMode == ConfirmModeCombined {
		opts := make([]string, 0, len(ReviewOptions)+len(PenaltyOptions))
		opts = append(opts, ReviewOptions...)
		return append(opts, PenaltyOptions...)
	}
	return ReviewOptions
}

func (e *Engine) reviewChannel(ctx context.Context, guildID string) (string, error) {
	cfg, err := e.guilds.GuildConfig(ctx, guildID)
	if err != nil {
		if errors.Is(err, repository.ErrGuildConfigNotFound) {
			return "", errGuildNotConfigured
		}
		return "", err
	}
	if cfg.ReviewChannelID == "" {
		return "", errGuildNotConfigured
	}
	return cfg.ReviewChannelID, nil
}

// followUp posts a best-effort message; failures are only logged.
func (e *Engine) followUp(ctx context.Context, channelID, content string) {
	if channelID == "" {
		return
	}
	if _, err := e.client.PostMessage(ctx, channelID, content); err != nil {
		e.log.Warn("failed to post follow-up",
			logger.String("channel_id", channelID),
			logger.Error(err))
	}
}

func (e *Engine) publishAlert(eventType string, alert *entities.Alert, actorID string, action Action, detail string) {
	e.bus.Publish(&LifecycleEvent{
		Type:         eventType,
		GuildID:      alert.GuildID,
		AlertID:      alert.ID,
		ChannelID:    alert.ChannelID,
		Kind:         Kind(alert.Kind),
		State:        alert.State,
		TargetUserID: alert.TargetUserID,
		ActorID:      actorID,
		Action:       action,
		Detail:       detail,
	})
}
