package moderation

import (
	"fmt"
	"strings"

	"github.com/colossusbot/modwatch/internal/datastore/entities"
)

// Ticket texts posted into inactive ticket channels.
const (
	TicketReminderText = "📌 Please send a message in the next 60 minutes to keep this ticket open, otherwise it will be closed."
	TicketClosingText  = "🔒 Closing this ticket due to inactivity."
)

// maxEvidenceLines bounds the evidence shown in a notification.
const maxEvidenceLines = 5

func mention(userID string) string { return "<@" + userID + ">" }

func channelMention(channelID string) string { return "<#" + channelID + ">" }

func notificationText(alert *entities.Alert, evidence []string, confirmMode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 **%s alert**\n", Kind(alert.Kind).Title())
	fmt.Fprintf(&b, "User: %s in %s\n", mention(alert.TargetUserID), channelMention(alert.ChannelID))
	if alert.SourceMessageID != "" {
		fmt.Fprintf(&b, "Message: https://discord.com/channels/%s/%s/%s\n", alert.GuildID, alert.ChannelID, alert.SourceMessageID)
	}

	shown := evidence
	if len(shown) > maxEvidenceLines {
		shown = shown[len(shown)-maxEvidenceLines:]
	}
	for _, line := range shown {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(&b, "> %s\n", line)
		}
	}
	if hidden := len(evidence) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "(+%d earlier)\n", hidden)
	}

	if confirmMode == ConfirmModeCombined {
		fmt.Fprintf(&b, "React %s to dismiss, or %s warn, %s mute, %s kick, %s ban.",
			EmojiDismiss, EmojiWarn, EmojiMute, EmojiKick, EmojiBan)
	} else {
		fmt.Fprintf(&b, "React %s to confirm or %s to dismiss.", EmojiConfirm, EmojiDismiss)
	}
	return b.String()
}

func penaltyPromptText(alert *entities.Alert, staffID string) string {
	return fmt.Sprintf("Alert confirmed by %s. Choose a penalty for %s: %s warn, %s mute, %s kick, %s ban.",
		mention(staffID), mention(alert.TargetUserID), EmojiWarn, EmojiMute, EmojiKick, EmojiBan)
}

func dismissedText(alert *entities.Alert) string {
	return fmt.Sprintf("%s alert ignored.", Kind(alert.Kind).Title())
}

func penalizedText(alert *entities.Alert, action Action, staffID string) string {
	return fmt.Sprintf("%s applied to %s by %s.", actionLabel(action), mention(alert.TargetUserID), mention(staffID))
}

func penaltyFailedText(alert *entities.Alert, action Action, staffID string) string {
	return fmt.Sprintf("%s could not %s %s. The alert is still open; react again to retry.",
		mention(staffID), action, mention(alert.TargetUserID))
}

func escalationText(alert *entities.Alert) string {
	return fmt.Sprintf("⏫ %s alert for %s escalated after %d detections.",
		Kind(alert.Kind).Title(), mention(alert.TargetUserID), alert.EvidenceCount)
}

func expiredText(alert *entities.Alert) string {
	return fmt.Sprintf("⌛ %s alert for %s expired without review.", Kind(alert.Kind).Title(), mention(alert.TargetUserID))
}

func alreadyHandledText(staffID string) string {
	return fmt.Sprintf("%s this alert was already handled.", mention(staffID))
}

func penaltyReason(alert *entities.Alert) string {
	return fmt.Sprintf("%s alert %s", Kind(alert.Kind).Title(), alert.ID)
}

func actionLabel(action Action) string {
	switch action {
	case ActionWarn:
		return "Warning"
	case ActionMute:
		return "Mute"
	case ActionKick:
		return "Kick"
	case ActionBan:
		return "Ban"
	default:
		return string(action)
	}
}
