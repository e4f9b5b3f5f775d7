package moderation

import "strings"

// Reaction vocabulary.
const (
	EmojiConfirm = "✅"
	EmojiDismiss = "❌"
	EmojiWarn    = "⚠️"
	EmojiMute    = "🔇"
	EmojiKick    = "👢"
	EmojiBan     = "🔨"
)

// variationSelector16 is appended by some clients to request emoji presentation.
const variationSelector16 = "\uFE0F"

// Reaction is a parsed staff reaction.
type Reaction int

// Reactions understood by the workflow.
const (
	ReactionUnknown Reaction = iota
	ReactionConfirm
	ReactionDismiss
	ReactionPenalty
)

// ReviewOptions are added to every new notification.
var ReviewOptions = []string{EmojiConfirm, EmojiDismiss}

// PenaltyOptions are added once an alert is confirmed.
var PenaltyOptions = []string{EmojiWarn, EmojiMute, EmojiKick, EmojiBan}

var penaltyByEmoji = map[string]Action{
	strings.TrimSuffix(EmojiWarn, variationSelector16): ActionWarn,
	EmojiMute: ActionMute,
	EmojiKick: ActionKick,
	EmojiBan:  ActionBan,
}

// ParseEmoji classifies an emoji. The variation selector is ignored, so "⚠"
// and "⚠️" are the same reaction. The action is set only for ReactionPenalty.
func ParseEmoji(emoji string) (Reaction, Action) {
	base := strings.ReplaceAll(emoji, variationSelector16, "")
	switch base {
	case strings.TrimSuffix(EmojiConfirm, variationSelector16):
		return ReactionConfirm, ""
	case strings.TrimSuffix(EmojiDismiss, variationSelector16):
		return ReactionDismiss, ""
	}
	if action, ok := penaltyByEmoji[base]; ok {
		return ReactionPenalty, action
	}
	return ReactionUnknown, ""
}

// EmojiFor returns the reaction emoji for a penalty.
func EmojiFor(action Action) string {
	switch action {
	case ActionWarn:
		return EmojiWarn
	case ActionMute:
		return EmojiMute
	case ActionKick:
		return EmojiKick
	case ActionBan:
		return EmojiBan
	default:
		return ""
	}
}
