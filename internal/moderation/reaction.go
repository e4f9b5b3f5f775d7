package moderation

import (
	"context"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/datastore/repository"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

// Outcome is what a reaction did.
type Outcome int

// Reaction outcomes.
const (
	// OutcomeIgnored means the reaction was not a workflow input.
	OutcomeIgnored Outcome = iota
	OutcomeConfirmed
	OutcomeDismissed
	OutcomePenalized
	// OutcomeRejected means another transition won; the reactor was told.
	OutcomeRejected
	// OutcomePenaltyFailed means the executor failed and the claim was released.
	OutcomePenaltyFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeDismissed:
		return "dismissed"
	case OutcomePenalized:
		return "penalized"
	case OutcomeRejected:
		return "rejected"
	case OutcomePenaltyFailed:
		return "penalty_failed"
	default:
		return "ignored"
	}
}

// HandleReaction applies a staff reaction to the alert whose notification it
// targets. Reactions that are not workflow inputs are ignored. A transition
// that loses to a concurrent one is reported to the reactor and is not an error.
func (e *Engine) HandleReaction(ctx context.Context, ev *ReactionEvent) (Outcome, error) {
	if !ev.Added || ev.ReactorIsBot {
		return OutcomeIgnored, nil
	}
	reaction, action := ParseEmoji(ev.Emoji)
	if reaction == ReactionUnknown {
		return OutcomeIgnored, nil
	}

	alert, err := e.alerts.FindByNotification(ctx, ev.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return OutcomeIgnored, nil
		}
		fault := storeFault("look up alert by notification", err)
		e.log.Error("dropping reaction, alert store unavailable",
			logger.String("message_id", ev.MessageID),
			logger.Error(fault))
		return OutcomeIgnored, fault
	}
	if alert.GuildID != ev.GuildID {
		return OutcomeIgnored, nil
	}

	staff, err := e.staff.IsStaff(ctx, ev.GuildID, ev.ReactorID)
	if err != nil {
		e.log.Warn("staff check failed, ignoring reaction",
			logger.String("guild_id", ev.GuildID),
			logger.String("user_id", ev.ReactorID),
			logger.Error(err))
		return OutcomeIgnored, nil
	}
	if !staff {
		return OutcomeIgnored, nil
	}

	if !alert.IsOpen() {
		return e.reject(ctx, alert, ev), nil
	}

	switch reaction {
	case ReactionDismiss:
		return e.dismiss(ctx, alert, ev)
	case ReactionConfirm:
		return e.confirm(ctx, alert, ev)
	case ReactionPenalty:
		return e.penalize(ctx, alert, ev, action)
	}
	return OutcomeIgnored, nil
}

func (e *Engine) dismiss(ctx context.Context, alert *entities.Alert, ev *ReactionEvent) (Outcome, error) {
	if alert.PendingAction != nil {
		return e.reject(ctx, alert, ev), nil
	}
	state := StateDismissed
	err := e.alerts.Transition(ctx, alert, repository.AlertTransition{
		State:   &state,
		Resolve: &repository.Resolution{By: ev.ReactorID, At: e.now()},
	})
	if outcome, handled, ferr := e.transitionFailed(ctx, alert, ev, err); handled {
		return outcome, ferr
	}

	e.log.Info("alert dismissed",
		logger.String("alert_id", alert.ID),
		logger.String("staff_id", ev.ReactorID))
	e.publishAlert(EventAlertDismissed, alert, ev.ReactorID, "", "")
	e.followUp(ctx, ev.ChannelID, dismissedText(alert))
	return OutcomeDismissed, nil
}

func (e *Engine) confirm(ctx context.Context, alert *entities.Alert, ev *ReactionEvent) (Outcome, error) {
	if alert.AwaitingPenalty {
		return OutcomeIgnored, nil
	}
	awaiting := true
	err := e.alerts.Transition(ctx, alert, repository.AlertTransition{AwaitingPenalty: &awaiting})
	if outcome, handled, ferr := e.transitionFailed(ctx, alert, ev, err); handled {
		return outcome, ferr
	}

	e.log.Info("alert confirmed",
		logger.String("alert_id", alert.ID),
		logger.String("staff_id", ev.ReactorID))
	e.publishAlert(EventAlertConfirmed, alert, ev.ReactorID, "", "")

	if e.cfg.ConfirmMode != ConfirmModeCombined {
		if err := e.client.AddReactionOptions(ctx, ev.ChannelID, ev.MessageID, PenaltyOptions); err != nil {
			e.log.Warn("failed to add penalty options",
				logger.String("alert_id", alert.ID),
				logger.Error(err))
		}
	}
	e.followUp(ctx, ev.ChannelID, penaltyPromptText(alert, ev.ReactorID))
	return OutcomeConfirmed, nil
}

// penalize claims the alert, runs the executor and closes the alert. The claim
// makes the executor run at most once per alert even under concurrent reactions.
func (e *Engine) penalize(ctx context.Context, alert *entities.Alert, ev *ReactionEvent, action Action) (Outcome, error) {
	if !alert.AwaitingPenalty && e.cfg.ConfirmMode != ConfirmModeCombined {
		return OutcomeIgnored, nil
	}
	if alert.PendingAction != nil {
		return e.reject(ctx, alert, ev), nil
	}

	err := e.alerts.Transition(ctx, alert, repository.AlertTransition{
		Claim: &repository.PenaltyClaim{Action: string(action), ClaimedBy: ev.ReactorID, ClaimedAt: e.now()},
	})
	if outcome, handled, ferr := e.transitionFailed(ctx, alert, ev, err); handled {
		return outcome, ferr
	}

	applyCtx, cancel := context.WithTimeout(ctx, e.cfg.PenaltyTimeout)
	err = e.penalties.Apply(applyCtx, PenaltyRequest{
		AlertID:     alert.ID,
		GuildID:     alert.GuildID,
		UserID:      alert.TargetUserID,
		ModeratorID: ev.ReactorID,
		Action:      action,
		Reason:      penaltyReason(alert),
	})
	cancel()
	if err != nil {
		return e.penaltyFailed(ctx, alert, ev, action, err)
	}

	state := StatePenalized
	applied := string(action)
	err = e.alerts.Transition(ctx, alert, repository.AlertTransition{
		State:          &state,
		PenaltyApplied: &applied,
		Resolve:        &repository.Resolution{By: ev.ReactorID, At: e.now()},
	})
	if err != nil {
		// The penalty is already applied on the platform. Only the sweep
		// releasing a stale claim can get here, and the alert then stays open.
		fault := storeFault("close penalized alert", err)
		e.log.Error("penalty applied but alert not closed",
			logger.String("alert_id", alert.ID),
			logger.String("action", applied),
			logger.Error(fault))
		return OutcomePenalized, fault
	}

	e.log.Info("alert penalized",
		logger.String("alert_id", alert.ID),
		logger.String("action", applied),
		logger.String("staff_id", ev.ReactorID))
	e.publishAlert(EventAlertPenalized, alert, ev.ReactorID, action, "")
	e.followUp(ctx, ev.ChannelID, penalizedText(alert, action, ev.ReactorID))
	return OutcomePenalized, nil
}

func (e *Engine) penaltyFailed(ctx context.Context, alert *entities.Alert, ev *ReactionEvent, action Action, cause error) (Outcome, error) {
	fault := penaltyFault(alert.ID, action, cause)
	e.log.Error("penalty failed, releasing claim",
		logger.String("alert_id", alert.ID),
		logger.String("action", string(action)),
		logger.Error(fault))

	if err := e.alerts.Transition(ctx, alert, repository.AlertTransition{ReleaseClaim: true}); err != nil {
		e.log.Warn("failed to release penalty claim, sweep will release it",
			logger.String("alert_id", alert.ID),
			logger.Error(err))
	}
	e.publishAlert(EventPenaltyFailed, alert, ev.ReactorID, action, cause.Error())
	e.followUp(ctx, ev.ChannelID, penaltyFailedText(alert, action, ev.ReactorID))
	return OutcomePenaltyFailed, fault
}

// transitionFailed maps a Transition error. handled is false when err is nil.
func (e *Engine) transitionFailed(ctx context.Context, alert *entities.Alert, ev *ReactionEvent, err error) (Outcome, bool, error) {
	switch {
	case err == nil:
		return OutcomeIgnored, false, nil
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrInvalidTransition):
		return e.reject(ctx, alert, ev), true, nil
	default:
		fault := storeFault("transition alert", err)
		e.log.Error("dropping reaction, alert store unavailable",
			logger.String("alert_id", alert.ID),
			logger.Error(fault))
		return OutcomeIgnored, true, fault
	}
}

// reject tells the reactor the alert was already handled and removes their reaction.
func (e *Engine) reject(ctx context.Context, alert *entities.Alert, ev *ReactionEvent) Outcome {
	e.log.Info("reaction rejected",
		logger.String("alert_id", alert.ID),
		logger.String("staff_id", ev.ReactorID),
		logger.String("emoji", ev.Emoji),
		logger.Error(ErrConcurrentTransition))
	e.publishAlert(EventTransitionRejected, alert, ev.ReactorID, "", ev.Emoji)
	e.followUp(ctx, ev.ChannelID, alreadyHandledText(ev.ReactorID))
	if err := e.client.RemoveReaction(ctx, ev.ChannelID, ev.MessageID, ev.Emoji, ev.ReactorID); err != nil {
		e.log.Warn("failed to remove rejected reaction",
			logger.String("alert_id", alert.ID),
			logger.Error(err))
	}
	return OutcomeRejected
}
