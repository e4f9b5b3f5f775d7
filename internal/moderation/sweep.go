package moderation

import (
	"context"

	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

// ExpireStale moves open alerts that were never confirmed and are older than
// the TTL to EXPIRED. It returns how many alerts expired.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	now := e.now()
	candidates, err := e.alerts.ListExpirable(ctx, now.Add(-e.cfg.TTL), e.cfg.SweepBatch)
	if err != nil {
		return 0, storeFault("list expirable alerts", err)
	}

	expired := 0
	for i := range candidates {
		alert := &candidates[i]
		state := StateExpired
		err := e.alerts.Transition(ctx, alert, repository.AlertTransition{
			State:   &state,
			Resolve: &repository.Resolution{By: SystemActor, At: now},
		})
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// Staff acted since the listing.
				continue
			}
			return expired, storeFault("expire alert", err)
		}
		expired++
		e.log.Info("alert expired",
			logger.String("alert_id", alert.ID),
			logger.String("guild_id", alert.GuildID))
		e.publishAlert(EventAlertExpired, alert, SystemActor, "", "")
		if alert.HasNotification() {
			e.followUp(ctx, *alert.NotificationChannelID, expiredText(alert))
		}
	}
	return expired, nil
}

// ReleaseStaleClaims clears penalty claims older than the claim timeout so a
// crashed or hung penalty attempt does not pin an alert forever.
func (e *Engine) ReleaseStaleClaims(ctx context.Context) (int, error) {
	stale, err := e.alerts.ListStaleClaims(ctx, e.now().Add(-e.cfg.ClaimTimeout), e.cfg.SweepBatch)
	if err != nil {
		return 0, storeFault("list stale claims", err)
	}

	released := 0
	for i := range stale {
		alert := &stale[i]
		action := ""
		if alert.PendingAction != nil {
			action = *alert.PendingAction
		}
		err := e.alerts.Transition(ctx, alert, repository.AlertTransition{ReleaseClaim: true})
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return released, storeFault("release stale claim", err)
		}
		released++
		e.log.Warn("released stale penalty claim",
			logger.String("alert_id", alert.ID),
			logger.String("action", action))
		e.publishAlert(EventClaimReleased, alert, SystemActor, Action(action), "")
	}
	return released, nil
}

// RunExpiry is the alert-expiry job: stale claims are released, then stale alerts expire.
func (e *Engine) RunExpiry(ctx context.Context) error {
	if _, err := e.ReleaseStaleClaims(ctx); err != nil {
		return err
	}
	_, err := e.ExpireStale(ctx)
	return err
}

// RetryNotifications re-posts staff notifications for open alerts that have none.
// It returns how many were delivered.
func (e *Engine) RetryNotifications(ctx context.Context) (int, error) {
	pending, err := e.alerts.ListUnnotified(ctx, e.now().Add(-notifyGrace), e.cfg.SweepBatch)
	if err != nil {
		return 0, storeFault("list unnotified alerts", err)
	}

	delivered := 0
	var faults []error
	for i := range pending {
		alert, err := e.alerts.GetAlert(ctx, pending[i].ID)
		if err != nil {
			faults = append(faults, storeFault("load alert", err))
			continue
		}
		evidence := make([]string, 0, len(alert.Evidence))
		for _, ev := range alert.Evidence {
			evidence = append(evidence, ev.Detail)
		}
		if err := e.notify(ctx, alert, evidence); err != nil {
			faults = append(faults, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(faults...)
}

// SweepInactivity asks the inactivity detector for silent ticket channels and
// handles the resulting reminders and closures.
func (e *Engine) SweepInactivity(ctx context.Context) error {
	if e.inactivity == nil {
		return nil
	}
	var faults []error
	for _, v := range e.inactivity.Sweep(ctx, e.now()) {
		if err := e.HandleViolation(ctx, &v); err != nil {
			faults = append(faults, err)
		}
	}
	return errors.Join(faults...)
}

func (e *Engine) remindTicket(ctx context.Context, v *Violation) error {
	if _, err := e.client.PostMessage(ctx, v.ChannelID, TicketReminderText); err != nil {
		fault := notificationFault(v.ChannelID, err)
		e.log.Warn("failed to post ticket reminder",
			logger.String("channel_id", v.ChannelID),
			logger.Error(fault))
		return fault
	}
	if e.inactivity != nil {
		e.inactivity.MarkReminded(v.ChannelID, v.DetectedAt)
	}
	e.log.Info("ticket reminder posted",
		logger.String("guild_id", v.GuildID),
		logger.String("channel_id", v.ChannelID))
	e.bus.Publish(&LifecycleEvent{Type: EventTicketReminderPosted, GuildID: v.GuildID, ChannelID: v.ChannelID, Kind: v.Kind, Detail: v.Evidence})
	return nil
}

// closeTicket posts the closing notice, archives the transcript and deletes the
// channel. A failed deletion keeps the channel tracked so the next sweep retries.
func (e *Engine) closeTicket(ctx context.Context, v *Violation) error {
	log := e.log.With(logger.String("guild_id", v.GuildID), logger.String("channel_id", v.ChannelID))

	if _, err := e.client.PostMessage(ctx, v.ChannelID, TicketClosingText); err != nil {
		log.Warn("failed to post ticket closing notice", logger.Error(err))
	}

	cfg, err := e.guilds.GuildConfig(ctx, v.GuildID)
	switch {
	case err == nil && cfg.TranscriptChannelID != "":
		if err := e.client.SendTranscript(ctx, v.ChannelID, cfg.TranscriptChannelID); err != nil {
			log.Warn("failed to send ticket transcript", logger.Error(err))
		}
	case err != nil && !errors.Is(err, repository.ErrGuildConfigNotFound):
		log.Warn("failed to load guild config for transcript", logger.Error(err))
	}

	if err := e.client.DeleteChannel(ctx, v.ChannelID); err != nil {
		fault := notificationFault(v.ChannelID, err)
		log.Error("failed to delete inactive ticket", logger.Error(fault))
		return fault
	}
	if e.inactivity != nil {
		e.inactivity.Forget(v.ChannelID)
	}
	log.Info("inactive ticket closed")
	e.bus.Publish(&LifecycleEvent{Type: EventTicketClosed, GuildID: v.GuildID, ChannelID: v.ChannelID, Kind: v.Kind, Detail: v.Evidence})
	return nil
}
