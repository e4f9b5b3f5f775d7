// Package moderation implements the alert review workflow: detectors turn
// messages into violations, violations become durable alerts, and staff
// reactions drive each alert to exactly one terminal outcome.
package moderation

import "github.com/colossusbot/modwatch/internal/datastore/entities"

// Kind identifies the detector family that produced a violation.
type Kind string

// Violation kinds.
const (
	KindFlaggedWord     Kind = "flagged-word"
	KindNSFW            Kind = "nsfw"
	KindRepeatedMessage Kind = "repeated-message"
	KindInactivityWarn  Kind = "inactivity-warn"
	KindInactivityClose Kind = "inactivity-close"
)

// IsTicketKind reports whether k follows the ticket path instead of staff review.
func (k Kind) IsTicketKind() bool {
	return k == KindInactivityWarn || k == KindInactivityClose
}

// Title is the human label used in staff notifications.
func (k Kind) Title() string {
	switch k {
	case KindFlaggedWord:
		return "Flagged words"
	case KindNSFW:
		return "NSFW"
	case KindRepeatedMessage:
		return "Repeated message"
	case KindInactivityWarn, KindInactivityClose:
		return "Ticket inactivity"
	default:
		return string(k)
	}
}

// State mirrors the persisted alert state.
type State = string

// Alert states.
const (
	StateOpen      State = entities.AlertStateOpen
	StateEscalated State = entities.AlertStateEscalated
	StatePenalized State = entities.AlertStatePenalized
	StateDismissed State = entities.AlertStateDismissed
	StateExpired   State = entities.AlertStateExpired
)

// Action is a penalty staff can apply to a confirmed alert.
type Action string

// Penalty actions.
const (
	ActionWarn Action = "warn"
	ActionMute Action = "mute"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
)

// Valid reports whether a is a known penalty.
func (a Action) Valid() bool {
	switch a {
	case ActionWarn, ActionMute, ActionKick, ActionBan:
		return true
	default:
		return false
	}
}

// Confirm modes.
const (
	// ConfirmModeTwoStep requires ✅ before penalty reactions are accepted.
	ConfirmModeTwoStep = "two_step"
	// ConfirmModeCombined offers penalty reactions on the initial notification.
	ConfirmModeCombined = "combined"
)

// SystemActor is recorded as resolver for automatic transitions.
const SystemActor = "system"
